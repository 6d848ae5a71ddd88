package compiler

import "loxvm/internal/token"

type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . ()
	precPrimary
)

type parseFn func(c *compiler, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

// Filled in init: the rule functions refer back to the table.
var rules map[token.Kind]parseRule

func init() {
	rules = map[token.Kind]parseRule{
		token.LParen: {(*compiler).grouping, (*compiler).call, precCall},
		token.Dot:    {nil, (*compiler).dot, precCall},
		token.Minus:  {(*compiler).unary, (*compiler).binary, precTerm},
		token.Plus:   {nil, (*compiler).binary, precTerm},
		token.Slash:  {nil, (*compiler).binary, precFactor},
		token.Star:   {nil, (*compiler).binary, precFactor},
		token.Bang:   {(*compiler).unary, nil, precNone},
		token.NotEq:  {nil, (*compiler).binary, precEquality},
		token.Eq:     {nil, (*compiler).binary, precEquality},
		token.Gt:     {nil, (*compiler).binary, precComparison},
		token.GtEq:   {nil, (*compiler).binary, precComparison},
		token.Lt:     {nil, (*compiler).binary, precComparison},
		token.LtEq:   {nil, (*compiler).binary, precComparison},
		token.Ident:  {(*compiler).variable, nil, precNone},
		token.String: {(*compiler).stringLiteral, nil, precNone},
		token.Number: {(*compiler).number, nil, precNone},
		token.And:    {nil, (*compiler).and, precAnd},
		token.Or:     {nil, (*compiler).or, precOr},
		token.False:  {(*compiler).literal, nil, precNone},
		token.Nil:    {(*compiler).literal, nil, precNone},
		token.True:   {(*compiler).literal, nil, precNone},
		token.Super:  {(*compiler).super, nil, precNone},
		token.This:   {(*compiler).this, nil, precNone},
	}
}

// getRule returns the zero rule for tokens that never start or continue an
// expression.
func getRule(kind token.Kind) parseRule {
	return rules[kind]
}
