package lexer

import (
	"dryad/internal/token"
	"testing"
)

func TestNextToken(t *testing.T) {
	input := `let five = 5
let ten = 10

func add(x: int, y: int) -> int
  return x + y
end

let result: int = add(five, ten)
!-/*5
5 < 10 > 5

if (5 < 10) then
	return true
else
	return false
end

10 == 10
10 != 9
"foobar"
"foo bar"
[1, 2]
{foo: "bar"}
macro(x, y)
`

	tests := []struct {
		expectedType    token.TokenType
		expectedLiteral string
	}{
		{token.LET, "let"},
		{token.IDENTIFIER, "five"},
		{token.ASSIGN, "="},
		{token.INT, "5"},
		{token.NEWLINE, "\n"},
		{token.LET, "let"},
		{token.IDENTIFIER, "ten"},
		{token.ASSIGN, "="},
		{token.INT, "10"},
		{token.NEWLINE, "\n"},
		{token.NEWLINE, "\n"},
		{token.FUNC, "func"},
		{token.IDENTIFIER, "add"},
		{token.LPAREN, "("},
		{token.IDENTIFIER, "x"},
		{token.COLON, ":"},
		{token.TYPE_INT, "int"},
		{token.COMMA, ","},
		{token.IDENTIFIER, "y"},
		{token.COLON, ":"},
		{token.TYPE_INT, "int"},
		{token.RPAREN, ")"},
		{token.ARROW, "->"},
		{token.TYPE_INT, "int"},
		{token.NEWLINE, "\n"},
		{token.RETURN, "return"},
		{token.IDENTIFIER, "x"},
		{token.PLUS, "+"},
		{token.IDENTIFIER, "y"},
		{token.NEWLINE, "\n"},
		{token.END, "end"},
		{token.NEWLINE, "\n"},
		{token.NEWLINE, "\n"},
		{token.LET, "let"},
		{token.IDENTIFIER, "result"},
		{token.COLON, ":"},
		{token.TYPE_INT, "int"},
		{token.ASSIGN, "="},
		{token.IDENTIFIER, "add"},
		{token.LPAREN, "("},
		{token.IDENTIFIER, "five"},
		{token.COMMA, ","},
		{token.IDENTIFIER, "ten"},
		{token.RPAREN, ")"},
		{token.NEWLINE, "\n"},
		{token.NOT, "!"},
		{token.MINUS, "-"},
		{token.SLASH, "/"},
		{token.STAR, "*"},
		{token.INT, "5"},
		{token.NEWLINE, "\n"},
		{token.INT, "5"},
		{token.LT, "<"},
		{token.INT, "10"},
		{token.GT, ">"},
		{token.INT, "5"},
		{token.NEWLINE, "\n"},
		{token.NEWLINE, "\n"},
		{token.IF, "if"},
		{token.LPAREN, "("},
		{token.INT, "5"},
		{token.LT, "<"},
		{token.INT, "10"},
		{token.RPAREN, ")"},
		{token.THEN, "then"},
		{token.NEWLINE, "\n"},
		{token.RETURN, "return"},
		{token.TRUE, "true"},
		{token.NEWLINE, "\n"},
		{token.ELSE, "else"},
		{token.NEWLINE, "\n"},
		{token.RETURN, "return"},
		{token.FALSE, "false"},
		{token.NEWLINE, "\n"},
		{token.END, "end"},
		{token.NEWLINE, "\n"},
		{token.NEWLINE, "\n"},
		{token.INT, "10"},
		{token.EQ, "=="},
		{token.INT, "10"},
		{token.NEWLINE, "\n"},
		{token.INT, "10"},
		{token.NEQ, "!="},
		{token.INT, "9"},
		{token.NEWLINE, "\n"},
		{token.STRING, "foobar"},
		{token.NEWLINE, "\n"},
		{token.STRING, "foo bar"},
		{token.NEWLINE, "\n"},
		{token.LBRACKET, "["},
		{token.INT, "1"},
		{token.COMMA, ","},
		{token.INT, "2"},
		{token.RBRACKET, "]"},
		{token.NEWLINE, "\n"},
		{token.LBRACE, "{"},
		{token.IDENTIFIER, "foo"},
		{token.COLON, ":"},
		{token.STRING, "bar"},
		{token.RBRACE, "}"},
		{token.NEWLINE, "\n"},
		{token.IDENTIFIER, "macro"},
		{token.LPAREN, "("},
		{token.IDENTIFIER, "x"},
		{token.COMMA, ","},
		{token.IDENTIFIER, "y"},
		{token.RPAREN, ")"},
		{token.NEWLINE, "\n"},
		{token.EOF, ""},
	}

	l := New(input)

	for i, tt := range tests {
		tok := l.NextToken()

		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q",
				i, tt.expectedType, tok.Type)
		}

		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q",
				i, tt.expectedLiteral, tok.Literal)
		}
	}
}

func TestNextTokenExtendedConstructs(t *testing.T) {
	input := `class Dog extends Animal
try
catch
finally
throw
(x) => x + 1
1 >>> 2
1 <<< 2
await spawn thread mutex
`

	tests := []struct {
		expectedType    token.TokenType
		expectedLiteral string
	}{
		{token.CLASS, "class"},
		{token.IDENTIFIER, "Dog"},
		{token.EXTENDS, "extends"},
		{token.IDENTIFIER, "Animal"},
		{token.NEWLINE, "\n"},
		{token.TRY, "try"},
		{token.NEWLINE, "\n"},
		{token.CATCH, "catch"},
		{token.NEWLINE, "\n"},
		{token.FINALLY, "finally"},
		{token.NEWLINE, "\n"},
		{token.THROW, "throw"},
		{token.NEWLINE, "\n"},
		{token.LPAREN, "("},
		{token.IDENTIFIER, "x"},
		{token.RPAREN, ")"},
		{token.FAT_ARROW, "=>"},
		{token.IDENTIFIER, "x"},
		{token.PLUS, "+"},
		{token.INT, "1"},
		{token.NEWLINE, "\n"},
		{token.INT, "1"},
		{token.SHIFT_RIGHT3, ">>>"},
		{token.INT, "2"},
		{token.NEWLINE, "\n"},
		{token.INT, "1"},
		{token.SHIFT_LEFT3, "<<<"},
		{token.INT, "2"},
		{token.NEWLINE, "\n"},
		{token.AWAIT, "await"},
		{token.SPAWN, "spawn"},
		{token.THREAD, "thread"},
		{token.MUTEX, "mutex"},
		{token.NEWLINE, "\n"},
		{token.EOF, ""},
	}

	l := New(input)
	for i, tt := range tests {
		tok := l.NextToken()
		if tok.Type != tt.expectedType {
			t.Fatalf("tests[%d] - tokentype wrong. expected=%q, got=%q", i, tt.expectedType, tok.Type)
		}
		if tok.Literal != tt.expectedLiteral {
			t.Fatalf("tests[%d] - literal wrong. expected=%q, got=%q", i, tt.expectedLiteral, tok.Literal)
		}
	}
}
