package token

import "fmt"

type Kind int

const (
	// Illegal carries a scan error; its Lexeme is the error message.
	Illegal Kind = iota
	EOF

	Ident  // Identifier
	Number // Number literal
	String // String literal, Lexeme includes the quotes

	// Keywords
	And
	Class
	Else
	False
	For
	Fun
	If
	Nil
	Or
	Print
	Return
	Super
	This
	True
	Var
	While

	// Operators
	Assign // =

	Plus  // +
	Minus // -
	Star  // *
	Slash // /

	Bang  // !
	Eq    // ==
	NotEq // !=
	Lt    // <
	LtEq  // <=
	Gt    // >
	GtEq  // >=

	// Symbols
	Comma     // ,
	Semicolon // ;
	Dot       // .

	LParen // (
	RParen // )
	LBrace // {
	RBrace // }
)

type Position struct {
	Line   int
	Column int
}

type Token struct {
	Kind   Kind
	Lexeme string
	Pos    Position
}

var kindNames = map[Kind]string{
	Illegal:   "Illegal",
	EOF:       "EOF",
	Ident:     "Ident",
	Number:    "Number",
	String:    "String",
	And:       "And",
	Class:     "Class",
	Else:      "Else",
	False:     "False",
	For:       "For",
	Fun:       "Fun",
	If:        "If",
	Nil:       "Nil",
	Or:        "Or",
	Print:     "Print",
	Return:    "Return",
	Super:     "Super",
	This:      "This",
	True:      "True",
	Var:       "Var",
	While:     "While",
	Assign:    "Assign",
	Plus:      "Plus",
	Minus:     "Minus",
	Star:      "Star",
	Slash:     "Slash",
	Bang:      "Bang",
	Eq:        "Eq",
	NotEq:     "NotEq",
	Lt:        "Lt",
	LtEq:      "LtEq",
	Gt:        "Gt",
	GtEq:      "GtEq",
	Comma:     "Comma",
	Semicolon: "Semicolon",
	Dot:       "Dot",
	LParen:    "LParen",
	RParen:    "RParen",
	LBrace:    "LBrace",
	RBrace:    "RBrace",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var keywords = map[string]Kind{
	"and":    And,
	"class":  Class,
	"else":   Else,
	"false":  False,
	"for":    For,
	"fun":    Fun,
	"if":     If,
	"nil":    Nil,
	"or":     Or,
	"print":  Print,
	"return": Return,
	"super":  Super,
	"this":   This,
	"true":   True,
	"var":    Var,
	"while":  While,
}

func LookupIdent(lit string) Kind {
	if kind, ok := keywords[lit]; ok {
		return kind
	}
	return Ident
}
