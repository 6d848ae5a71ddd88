package lexer

import (
	"unicode"

	"loxvm/internal/token"
)

// Lexer produces tokens on demand; the compiler pulls one token at a time.
type Lexer struct {
	input []rune

	pos int // index of the rune after ch
	cur int // index of ch

	ch   rune
	line int
	col  int
}

func New(input string) *Lexer {
	l := &Lexer{
		input: []rune(input),
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// NextToken returns the next token. Scan errors come back as Illegal tokens
// whose Lexeme is the message; after EOF every call returns EOF again.
func (l *Lexer) NextToken() token.Token {
	l.skipWhitespaceAndComments()

	pos := token.Position{
		Line:   l.line,
		Column: l.col,
	}

	ch := l.ch

	if ch == 0 && l.cur >= len(l.input) {
		return token.Token{
			Kind:   token.EOF,
			Lexeme: "",
			Pos:    pos,
		}
	}

	if isDigit(ch) {
		return token.Token{
			Kind:   token.Number,
			Lexeme: l.readNumber(),
			Pos:    pos,
		}
	}

	if isLetter(ch) {
		lit := l.readIdentifier()
		return token.Token{
			Kind:   token.LookupIdent(lit),
			Lexeme: lit,
			Pos:    pos,
		}
	}

	if ch == '"' {
		return l.readString(pos)
	}

	var kind token.Kind
	var lexeme string

	switch ch {
	case '(':
		kind, lexeme = token.LParen, "("
	case ')':
		kind, lexeme = token.RParen, ")"
	case '{':
		kind, lexeme = token.LBrace, "{"
	case '}':
		kind, lexeme = token.RBrace, "}"
	case ';':
		kind, lexeme = token.Semicolon, ";"
	case ',':
		kind, lexeme = token.Comma, ","
	case '.':
		kind, lexeme = token.Dot, "."
	case '-':
		kind, lexeme = token.Minus, "-"
	case '+':
		kind, lexeme = token.Plus, "+"
	case '/':
		kind, lexeme = token.Slash, "/"
	case '*':
		kind, lexeme = token.Star, "*"
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			kind, lexeme = token.NotEq, "!="
		} else {
			kind, lexeme = token.Bang, "!"
		}
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			kind, lexeme = token.Eq, "=="
		} else {
			kind, lexeme = token.Assign, "="
		}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			kind, lexeme = token.LtEq, "<="
		} else {
			kind, lexeme = token.Lt, "<"
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			kind, lexeme = token.GtEq, ">="
		} else {
			kind, lexeme = token.Gt, ">"
		}
	default:
		kind, lexeme = token.Illegal, "Unexpected character."
	}

	l.readChar()

	return token.Token{
		Kind:   kind,
		Lexeme: lexeme,
		Pos:    pos,
	}
}

// Helpers

func (l *Lexer) readChar() {
	l.cur = l.pos
	if l.pos >= len(l.input) {
		l.ch = 0
		return
	}

	l.ch = l.input[l.pos]
	l.pos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

func (l *Lexer) peekChar() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for unicode.IsSpace(l.ch) {
			l.readChar()
		}

		if l.ch == '/' && l.peekChar() == '/' {
			for l.ch != '\n' && l.cur < len(l.input) {
				l.readChar()
			}
			continue
		}

		break
	}
}

func (l *Lexer) readIdentifier() string {
	start := l.cur
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return string(l.input[start:l.cur])
}

func (l *Lexer) readNumber() string {
	start := l.cur
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // consume '.'
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return string(l.input[start:l.cur])
}

// readString scans a string literal. Strings may span lines and have no
// escape sequences.
func (l *Lexer) readString(pos token.Position) token.Token {
	start := l.cur
	l.readChar() // opening quote
	for l.ch != '"' {
		if l.cur >= len(l.input) {
			return token.Token{
				Kind:   token.Illegal,
				Lexeme: "Unterminated string.",
				Pos:    token.Position{Line: l.line, Column: l.col},
			}
		}
		l.readChar()
	}
	l.readChar() // closing quote
	return token.Token{
		Kind:   token.String,
		Lexeme: string(l.input[start:l.cur]),
		Pos:    pos,
	}
}

func isLetter(ch rune) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}
