// Package parser implements the Pratt (precedence-climbing) parser
// that turns a token stream into the ast package's syntax tree,
// generalized from the teacher's internal/parser/parser.go to the
// full statement/expression grammar the compiler now compiles
// (classes, try/catch/finally, lambdas, tuples, concurrency
// expressions, imports).
package parser

import (
	"fmt"
	"strconv"

	"dryad/internal/ast"
	"dryad/internal/lexer"
	"dryad/internal/token"
)

type Parser struct {
	l *lexer.Lexer

	curToken  token.Token
	peekToken token.Token

	prefixParseFns map[token.TokenType]func() ast.Expression
	infixParseFns  map[token.TokenType]func(ast.Expression) ast.Expression

	errors []string
}

func New(l *lexer.Lexer) *Parser {
	p := &Parser{
		l:      l,
		errors: []string{},
	}

	p.nextToken()
	p.nextToken()

	p.prefixParseFns = make(map[token.TokenType]func() ast.Expression)
	p.registerPrefix(token.IDENTIFIER, p.parseIdentifier)
	p.registerPrefix(token.INT, p.parseIntegerLiteral)
	p.registerPrefix(token.FLOAT, p.parseFloatLiteral)
	p.registerPrefix(token.NOT, p.parsePrefixExpression)
	p.registerPrefix(token.MINUS, p.parsePrefixExpression)
	p.registerPrefix(token.BIT_NOT, p.parsePrefixExpression)
	p.registerPrefix(token.TRUE, p.parseBoolean)
	p.registerPrefix(token.FALSE, p.parseBoolean)
	p.registerPrefix(token.LPAREN, p.parseParenExpression)
	p.registerPrefix(token.LBRACKET, p.parseArrayLiteral)
	p.registerPrefix(token.STRING, p.parseStringLiteral)
	p.registerPrefix(token.BYTES, p.parseBytesLiteral)
	p.registerPrefix(token.FSTRING, p.parseTemplateString)
	p.registerPrefix(token.NULL, p.parseNull)
	p.registerPrefix(token.ZEROS, p.parseZeros)
	p.registerPrefix(token.FUNC, p.parseFunctionExpression)
	p.registerPrefix(token.LBRACE, p.parseMapLiteral)
	p.registerPrefix(token.THIS, p.parseThis)
	p.registerPrefix(token.SUPER, p.parseSuper)
	p.registerPrefix(token.AWAIT, p.parseAwait)
	p.registerPrefix(token.SPAWN, p.parseThreadCall)
	p.registerPrefix(token.THREAD, p.parseThreadCall)
	p.registerPrefix(token.MUTEX, p.parseMutex)

	p.infixParseFns = make(map[token.TokenType]func(ast.Expression) ast.Expression)
	p.registerInfix(token.PLUS, p.parseInfixExpression)
	p.registerInfix(token.MINUS, p.parseInfixExpression)
	p.registerInfix(token.SLASH, p.parseInfixExpression)
	p.registerInfix(token.STAR, p.parseInfixExpression)
	p.registerInfix(token.PERCENT, p.parseInfixExpression)
	p.registerInfix(token.EQ, p.parseInfixExpression)
	p.registerInfix(token.NEQ, p.parseInfixExpression)
	p.registerInfix(token.LT, p.parseInfixExpression)
	p.registerInfix(token.GT, p.parseInfixExpression)
	p.registerInfix(token.LTE, p.parseInfixExpression)
	p.registerInfix(token.GTE, p.parseInfixExpression)
	p.registerInfix(token.AND, p.parseInfixExpression)
	p.registerInfix(token.OR, p.parseInfixExpression)
	p.registerInfix(token.BIT_AND, p.parseInfixExpression)
	p.registerInfix(token.BIT_OR, p.parseInfixExpression)
	p.registerInfix(token.BIT_XOR, p.parseInfixExpression)
	p.registerInfix(token.SHIFT_LEFT, p.parseInfixExpression)
	p.registerInfix(token.SHIFT_RIGHT, p.parseInfixExpression)
	p.registerInfix(token.SHIFT_LEFT3, p.parseInfixExpression)
	p.registerInfix(token.SHIFT_RIGHT3, p.parseInfixExpression)
	p.registerInfix(token.LPAREN, p.parseCallExpression)
	p.registerInfix(token.LBRACKET, p.parseIndexExpression)
	p.registerInfix(token.DOT, p.parseMemberAccess)

	return p
}

func (p *Parser) Errors() []string {
	return p.errors
}

func (p *Parser) peekError(t token.TokenType) {
	msg := fmt.Sprintf("[%d:%d] SyntaxError: expected %s, found %s",
		p.peekToken.Line, p.peekToken.Column, t.Display(), p.peekToken.Type.Display())
	p.errors = append(p.errors, msg)
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, fmt.Sprintf("[%d:%d] SyntaxError: %s",
		p.curToken.Line, p.curToken.Column, fmt.Sprintf(format, args...)))
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) skipUntilEnd() {
	for !p.curTokenIs(token.END) && !p.curTokenIs(token.EOF) {
		p.nextToken()
	}
}

func (p *Parser) ParseProgram() *ast.Program {
	program := &ast.Program{}
	program.Statements = []ast.Statement{}

	for p.curToken.Type != token.EOF {
		stmt := p.parseStatement()
		if stmt != nil {
			program.Statements = append(program.Statements, stmt)
		}
		p.nextToken()
	}

	return program
}

func (p *Parser) parseStatement() ast.Statement {
	switch p.curToken.Type {
	case token.LET:
		return p.parseLetStatement(false)
	case token.CONST:
		return p.parseLetStatement(true)
	case token.RETURN:
		return p.parseReturnStatement()
	case token.IF:
		return p.parseIfStatement()
	case token.WHILE:
		return p.parseWhileStatement()
	case token.FOR:
		return p.parseForStatement()
	case token.STRUCT:
		return p.parseStructStatement()
	case token.CLASS:
		return p.parseClassDeclaration()
	case token.FUNC:
		return p.parseFunctionStatement(false)
	case token.ASYNC:
		p.nextToken() // eat 'async'
		if !p.curTokenIs(token.FUNC) {
			p.errorf("expected 'func' after 'async'")
			return nil
		}
		return p.parseFunctionStatement(true)
	case token.BREAK:
		return p.parseBreakStatement()
	case token.CONTINUE:
		return p.parseContinueStatement()
	case token.USE:
		return p.parseUseStatement()
	case token.IMPORT:
		return p.parseImportStatement()
	case token.EXPORT:
		return p.parseExportStatement()
	case token.TRY:
		return p.parseTryStatement()
	case token.THROW:
		return p.parseThrowStatement()
	case token.NEWLINE:
		return nil
	default:
		expr := p.parseExpression(LOWEST)

		if ident, ok := expr.(*ast.Identifier); ok && p.peekTokenIs(token.COLON) {
			p.errorf("missing 'let' keyword for variable declaration\n  hint: use 'let %s%s ...'",
				ident.Value, p.peekToken.Literal)
			for !p.curTokenIs(token.NEWLINE) && !p.curTokenIs(token.EOF) {
				p.nextToken()
			}
			return nil
		}

		if p.peekTokenIs(token.ASSIGN) {
			p.nextToken() // eat ASSIGN
			tokenAssign := p.curToken
			p.nextToken() // move to value
			stmt := &ast.AssignStmt{Token: tokenAssign, Target: expr}
			stmt.Value = p.parseExpression(LOWEST)

			if p.peekTokenIs(token.NEWLINE) {
				p.nextToken()
			}
			return stmt
		}

		if expr != nil {
			stmt := &ast.ExpressionStmt{Token: p.curToken, Expression: expr}
			if p.peekTokenIs(token.NEWLINE) {
				p.nextToken()
			}
			return stmt
		}

		return nil
	}
}

func (p *Parser) parseIfStatement() *ast.IfStatement {
	stmt := &ast.IfStatement{Token: p.curToken}

	p.nextToken() // eat 'if'

	stmt.Condition = p.parseExpression(LOWEST)

	if !p.expectPeek(token.THEN) {
		return nil
	}

	stmt.Consequence = p.parseBlockStatement()

	if !p.curTokenIs(token.END) && !p.curTokenIs(token.ELSE) && !p.curTokenIs(token.ELIF) {
		p.errorf("expected 'end', 'else' or 'elif', found %s", p.tokenDesc(p.curToken))
		return nil
	}

	if p.curTokenIs(token.ELIF) {
		wrapperBlock := &ast.BlockStatement{Token: p.curToken, Statements: []ast.Statement{}}
		nestedIf := p.parseIfStatement()
		if nestedIf == nil {
			return nil
		}
		wrapperBlock.Statements = append(wrapperBlock.Statements, nestedIf)
		stmt.Alternative = wrapperBlock
	} else if p.curTokenIs(token.ELSE) {
		stmt.Alternative = p.parseBlockStatement()
		if !p.curTokenIs(token.END) {
			p.errorf("expected 'end', found %s", p.tokenDesc(p.curToken))
			return nil
		}
	}

	return stmt
}

func (p *Parser) tokenDesc(t token.Token) string {
	if t.Type == token.EOF {
		return "EOF"
	}
	return t.Literal
}

func (p *Parser) parseLetStatement(isConst bool) *ast.LetStmt {
	stmt := &ast.LetStmt{Token: p.curToken, IsConst: isConst}

	if !p.expectPeek(token.IDENTIFIER) {
		return nil
	}
	stmt.Name = &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}

	if p.peekTokenIs(token.COLON) {
		p.nextToken() // eat IDENTIFIER -> COLON
		p.nextToken() // eat COLON
		stmt.Type = p.parseType()
	}

	if p.peekToken.Type == token.ASSIGN {
		p.nextToken() // eat ASSIGN
		p.nextToken() // start expression
		stmt.Value = p.parseExpression(LOWEST)
	}

	if p.peekTokenIs(token.NEWLINE) {
		p.nextToken()
	}

	return stmt
}

func (p *Parser) parseReturnStatement() *ast.ReturnStmt {
	stmt := &ast.ReturnStmt{Token: p.curToken}

	p.nextToken()

	if p.curToken.Type == token.NEWLINE || p.curToken.Type == token.EOF || p.curToken.Type == token.END {
		return stmt
	}

	stmt.ReturnValue = p.parseExpression(LOWEST)

	if p.peekToken.Type == token.NEWLINE {
		p.nextToken()
	}

	return stmt
}

func (p *Parser) parseBreakStatement() *ast.BreakStmt {
	stmt := &ast.BreakStmt{Token: p.curToken}
	if p.peekTokenIs(token.NEWLINE) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseContinueStatement() *ast.ContinueStmt {
	stmt := &ast.ContinueStmt{Token: p.curToken}
	if p.peekTokenIs(token.NEWLINE) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseUseStatement() *ast.UseStmt {
	stmt := &ast.UseStmt{Token: p.curToken}

	if !p.expectPeek(token.IDENTIFIER) {
		return nil
	}
	stmt.Module = p.curToken.Literal

	for p.peekTokenIs(token.DOT) {
		p.nextToken()
		if !p.expectPeek(token.IDENTIFIER) {
			return nil
		}
		stmt.Module += "." + p.curToken.Literal
	}

	if p.peekTokenIs(token.NEWLINE) {
		p.nextToken()
	}
	return stmt
}

// parseImportStatement handles both `import "path" as alias` and
// `import {a, b} from "path"` (spec §6 "import"/"export").
func (p *Parser) parseImportStatement() *ast.ImportStmt {
	stmt := &ast.ImportStmt{Token: p.curToken}

	if p.peekTokenIs(token.LBRACE) {
		p.nextToken() // eat 'import' -> '{'
		p.nextToken() // eat '{'
		for !p.curTokenIs(token.RBRACE) && !p.curTokenIs(token.EOF) {
			if p.curTokenIs(token.IDENTIFIER) {
				stmt.Names = append(stmt.Names, p.curToken.Literal)
			}
			p.nextToken()
			if p.curTokenIs(token.COMMA) {
				p.nextToken()
			}
		}
		if !p.expectPeek(token.FROM) {
			return nil
		}
		if !p.expectPeek(token.STRING) {
			return nil
		}
		stmt.Path = p.curToken.Literal
	} else {
		if !p.expectPeek(token.STRING) {
			return nil
		}
		stmt.Path = p.curToken.Literal
		if p.peekTokenIs(token.AS) {
			p.nextToken()
			if !p.expectPeek(token.IDENTIFIER) {
				return nil
			}
			stmt.Alias = p.curToken.Literal
		}
	}

	if p.peekTokenIs(token.NEWLINE) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseExportStatement() *ast.ExportStmt {
	stmt := &ast.ExportStmt{Token: p.curToken}
	p.nextToken() // eat 'export'
	stmt.Decl = p.parseStatement()
	return stmt
}

func (p *Parser) parseThrowStatement() *ast.ThrowStatement {
	stmt := &ast.ThrowStatement{Token: p.curToken}
	p.nextToken()
	stmt.Value = p.parseExpression(LOWEST)
	if p.peekTokenIs(token.NEWLINE) {
		p.nextToken()
	}
	return stmt
}

// parseTryStatement compiles later to the TryBegin/TryEnd/PopHandler
// sequence of spec §4.2/§4.3: `try ... [catch (e) ...] [finally ...] end`.
func (p *Parser) parseTryStatement() *ast.TryStatement {
	stmt := &ast.TryStatement{Token: p.curToken}

	p.nextToken() // eat 'try'
	stmt.Body = p.parseTryBlock()

	if p.curTokenIs(token.CATCH) {
		clause := &ast.CatchClause{}
		if p.peekTokenIs(token.LPAREN) {
			p.nextToken() // eat 'catch' -> '('
			if !p.expectPeek(token.IDENTIFIER) {
				return nil
			}
			clause.Binding = &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}
			if !p.expectPeek(token.RPAREN) {
				return nil
			}
		}
		clause.Body = p.parseTryBlock()
		stmt.Catch = clause
	}

	if p.curTokenIs(token.FINALLY) {
		stmt.Finally = p.parseTryBlock()
	}

	if !p.curTokenIs(token.END) {
		p.errorf("expected 'end', found %s", p.tokenDesc(p.curToken))
		return nil
	}

	return stmt
}

// parseTryBlock parses statements until a CATCH/FINALLY/END boundary
// without consuming the boundary token, mirroring parseBlockStatement's
// ELSE/ELIF handling for if-statements.
func (p *Parser) parseTryBlock() *ast.BlockStatement {
	block := &ast.BlockStatement{Token: p.curToken}
	p.nextToken()

	for !p.curTokenIs(token.END) && !p.curTokenIs(token.CATCH) && !p.curTokenIs(token.FINALLY) && !p.curTokenIs(token.EOF) {
		stmt := p.parseStatement()
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}

	return block
}

func (p *Parser) parseWhileStatement() *ast.WhileStatement {
	stmt := &ast.WhileStatement{Token: p.curToken}
	p.nextToken() // eat 'while'

	stmt.Condition = p.parseExpression(LOWEST)

	if !p.expectPeek(token.DO) {
		return nil
	}

	stmt.Body = p.parseBlockStatement()

	if !p.curTokenIs(token.END) {
		p.errorf("expected 'end', found %s", p.tokenDesc(p.curToken))
		return nil
	}

	return stmt
}

// parseForStatement parses the for-in loop `for x in iterable do ... end`
// lowered by the compiler to IterNew/IterNext/Loop (spec §4.3).
func (p *Parser) parseForStatement() *ast.ForEachStatement {
	stmt := &ast.ForEachStatement{Token: p.curToken}
	if !p.expectPeek(token.IDENTIFIER) {
		return nil
	}
	stmt.Iterator = &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}

	if !p.expectPeek(token.IN) {
		return nil
	}
	p.nextToken()
	stmt.Iterable = p.parseExpression(LOWEST)

	if !p.expectPeek(token.DO) {
		return nil
	}

	stmt.Body = p.parseBlockStatement()

	if !p.curTokenIs(token.END) {
		p.errorf("expected 'end', found %s", p.tokenDesc(p.curToken))
		return nil
	}

	return stmt
}

func (p *Parser) parseBlockStatement() *ast.BlockStatement {
	block := &ast.BlockStatement{Token: p.curToken}
	block.Statements = []ast.Statement{}

	p.nextToken() // skip THEN/DO/ELSE

	for !p.curTokenIs(token.END) && !p.curTokenIs(token.ELSE) && !p.curTokenIs(token.ELIF) && !p.curTokenIs(token.EOF) {
		stmt := p.parseStatement()
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
		p.nextToken()
	}

	return block
}

func (p *Parser) parseStructStatement() *ast.StructStatement {
	stmt := &ast.StructStatement{Token: p.curToken}

	if !p.expectPeek(token.IDENTIFIER) {
		return nil
	}
	stmt.Name = p.curToken.Literal

	p.nextToken() // move into field list

	for !p.curTokenIs(token.END) && !p.curTokenIs(token.EOF) {
		if p.curTokenIs(token.NEWLINE) || p.curTokenIs(token.COMMA) {
			p.nextToken()
			continue
		}
		if !p.curTokenIs(token.IDENTIFIER) {
			p.errorf("expected field name, found %s", p.tokenDesc(p.curToken))
			p.skipUntilEnd()
			break
		}
		name := p.curToken.Literal
		if !p.expectPeek(token.COLON) {
			return nil
		}
		p.nextToken()
		fieldType := p.parseType()
		stmt.FieldsList = append(stmt.FieldsList, &ast.StructField{Name: name, Type: fieldType})
		p.nextToken()
	}

	return stmt
}

// parseClassDeclaration parses `class Name [extends Parent] ... end`
// with an ordered member list of fields (`[public|private] [static]
// name [: type] [= default]`) and methods (`func name(...) ... end`),
// the constructor spelled `func init(...)`.
func (p *Parser) parseClassDeclaration() *ast.ClassDeclaration {
	stmt := &ast.ClassDeclaration{Token: p.curToken}

	if !p.expectPeek(token.IDENTIFIER) {
		return nil
	}
	stmt.Name = p.curToken.Literal

	if p.peekTokenIs(token.EXTENDS) {
		p.nextToken()
		if !p.expectPeek(token.IDENTIFIER) {
			return nil
		}
		stmt.HasParent = true
		stmt.Parent = p.curToken.Literal
	}

	p.nextToken() // move into class body

	for !p.curTokenIs(token.END) && !p.curTokenIs(token.EOF) {
		if p.curTokenIs(token.NEWLINE) {
			p.nextToken()
			continue
		}

		visibility := "public"
		isStatic := false
		isAsync := false
		for p.curTokenIs(token.PUBLIC) || p.curTokenIs(token.PRIVATE) || p.curTokenIs(token.STATIC) || p.curTokenIs(token.ASYNC) {
			switch p.curToken.Type {
			case token.PUBLIC:
				visibility = "public"
			case token.PRIVATE:
				visibility = "private"
			case token.STATIC:
				isStatic = true
			case token.ASYNC:
				isAsync = true
			}
			p.nextToken()
		}

		if p.curTokenIs(token.FUNC) {
			method := p.parseMethodDeclaration(visibility, isStatic, isAsync)
			if method != nil {
				stmt.Methods = append(stmt.Methods, method)
			}
			p.nextToken()
			continue
		}

		if p.curTokenIs(token.IDENTIFIER) {
			field := &ast.FieldDeclaration{Token: p.curToken, Name: p.curToken.Literal, Visibility: visibility, IsStatic: isStatic}
			if p.peekTokenIs(token.COLON) {
				p.nextToken()
				p.nextToken()
				field.Type = p.parseType()
			}
			if p.peekTokenIs(token.ASSIGN) {
				p.nextToken()
				p.nextToken()
				field.Default = p.parseExpression(LOWEST)
			}
			stmt.Fields = append(stmt.Fields, field)
			p.nextToken()
			continue
		}

		p.errorf("unexpected %s in class body", p.tokenDesc(p.curToken))
		p.nextToken()
	}

	return stmt
}

// constructorName is the reserved method name the compiler treats as
// the class constructor (spec §4.3 "constructor as reserved-sentinel
// method with field defaults prepended").
const constructorName = "init"

func (p *Parser) parseMethodDeclaration(visibility string, isStatic, isAsync bool) *ast.MethodDeclaration {
	md := &ast.MethodDeclaration{Token: p.curToken, Visibility: visibility, IsStatic: isStatic, IsAsync: isAsync}

	if !p.expectPeek(token.IDENTIFIER) {
		return nil
	}
	md.Name = p.curToken.Literal
	md.Constructor = md.Name == constructorName

	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	md.Parameters = p.parseParameterNames()

	if p.peekTokenIs(token.ARROW) {
		p.nextToken()
		p.nextToken()
		p.parseType()
	}

	md.Body = p.parseBlockStatement()

	if !p.curTokenIs(token.END) {
		p.errorf("expected 'end', found %s", p.tokenDesc(p.curToken))
		return nil
	}

	return md
}

func (p *Parser) parseFunctionStatement(isAsync bool) *ast.FunctionStatement {
	stmt := &ast.FunctionStatement{Token: p.curToken, IsAsync: isAsync}

	if !p.expectPeek(token.IDENTIFIER) {
		return nil
	}
	stmt.Name = p.curToken.Literal

	if !p.expectPeek(token.LPAREN) {
		return nil
	}

	errCountBefore := len(p.errors)
	stmt.Parameters = p.parseParameterNames()
	if stmt.Parameters == nil && len(p.errors) > errCountBefore {
		p.skipUntilEnd()
		return nil
	}

	if p.peekTokenIs(token.ARROW) {
		p.nextToken()
		p.nextToken()
		p.parseType()
	}

	stmt.Body = p.parseBlockStatement()

	if !p.curTokenIs(token.END) {
		p.errorf("expected 'end', found %s", p.tokenDesc(p.curToken))
		return nil
	}

	return stmt
}

// parseFunctionExpression handles an anonymous `func(...) ... end`
// used as an expression (e.g. passed to a higher-order call).
func (p *Parser) parseFunctionExpression() ast.Expression {
	tok := p.curToken
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	params := p.parseParameterNames()
	if p.peekTokenIs(token.ARROW) {
		p.nextToken()
		p.nextToken()
		p.parseType()
	}
	body := p.parseBlockStatement()
	if !p.curTokenIs(token.END) {
		p.errorf("expected 'end', found %s", p.tokenDesc(p.curToken))
		return nil
	}
	return &ast.LambdaExpression{Token: tok, Parameters: params, Body: body}
}

// parseParameterNames parses `(name[: type], ...)`, returning just the
// bound names: the runtime is dynamically typed so annotations are
// consumed for documentation purposes only.
func (p *Parser) parseParameterNames() []*ast.Identifier {
	var params []*ast.Identifier

	if p.peekTokenIs(token.RPAREN) {
		p.nextToken()
		return params
	}

	p.nextToken()
	params = append(params, p.parseOneParameter())

	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		params = append(params, p.parseOneParameter())
	}

	if !p.expectPeek(token.RPAREN) {
		return nil
	}

	return params
}

func (p *Parser) parseOneParameter() *ast.Identifier {
	ident := &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}
	if p.peekTokenIs(token.COLON) {
		p.nextToken()
		p.nextToken()
		p.parseType()
	}
	return ident
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.noPrefixParseFnError(p.curToken.Type)
		return nil
	}
	leftExp := prefix()

	for !p.peekTokenIs(token.NEWLINE) && precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return leftExp
		}
		p.nextToken()
		leftExp = infix(leftExp)
	}

	return leftExp
}

func (p *Parser) noPrefixParseFnError(t token.TokenType) {
	p.errorf("no prefix parse function for %s found", t.Display())
}

// Helpers
func (p *Parser) curTokenIs(t token.TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t token.TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) expectPeek(t token.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

// Type parsing
func (p *Parser) parseType() ast.NoxyType {
	var t ast.NoxyType
	switch p.curToken.Type {
	case token.TYPE_INT:
		t = &ast.PrimitiveType{Name: "int"}
	case token.TYPE_FLOAT:
		t = &ast.PrimitiveType{Name: "float"}
	case token.TYPE_STRING:
		t = &ast.PrimitiveType{Name: "string"}
	case token.TYPE_STR:
		t = &ast.PrimitiveType{Name: "str"}
	case token.TYPE_BOOL:
		t = &ast.PrimitiveType{Name: "bool"}
	case token.TYPE_BYTES, token.BYTES:
		t = &ast.PrimitiveType{Name: "bytes"}
	case token.TYPE_VOID:
		t = &ast.PrimitiveType{Name: "void"}
	case token.TYPE_ANY:
		t = &ast.PrimitiveType{Name: "any"}
	case token.FUNC:
		t = &ast.PrimitiveType{Name: "func"}
	case token.TUPLE:
		t = &ast.PrimitiveType{Name: "tuple"}
	case token.IDENTIFIER:
		name := p.curToken.Literal
		for p.peekTokenIs(token.DOT) {
			p.nextToken()
			if !p.expectPeek(token.IDENTIFIER) {
				return nil
			}
			name += "." + p.curToken.Literal
		}
		t = &ast.PrimitiveType{Name: name}
	case token.MAP:
		if !p.expectPeek(token.LBRACKET) {
			return nil
		}
		p.nextToken()
		keyType := p.parseType()
		if !p.expectPeek(token.COMMA) {
			return nil
		}
		p.nextToken()
		valueType := p.parseType()
		if !p.expectPeek(token.RBRACKET) {
			return nil
		}
		return &ast.MapType{KeyType: keyType, ValueType: valueType}
	default:
		t = &ast.PrimitiveType{Name: "any"}
	}

	if p.peekTokenIs(token.LBRACKET) {
		p.nextToken()
		size := 0
		if !p.peekTokenIs(token.RBRACKET) {
			p.nextToken()
			if p.curToken.Type == token.INT {
				fmt.Sscanf(p.curToken.Literal, "%d", &size)
			}
		}
		if !p.expectPeek(token.RBRACKET) {
			return nil
		}
		t = &ast.ArrayType{ElementType: t, Size: size}
	}

	return t
}

// Precedence system setup
const (
	_ int = iota
	LOWEST
	OR          // ||
	AND         // &&
	BIT_OR      // |
	BIT_XOR     // ^
	BIT_AND     // &
	EQUALS      // ==
	LESSGREATER // > or <
	SHIFT       // << or >> or <<< or >>>
	SUM         // + or -
	PRODUCT     // * or /
	PREFIX      // -X or !X or ~X
	CALL        // myFunction(X)
	INDEX       // array[index]
)

var precedences = map[token.TokenType]int{
	token.EQ:           EQUALS,
	token.NEQ:          EQUALS,
	token.LT:           LESSGREATER,
	token.GT:           LESSGREATER,
	token.LTE:          LESSGREATER,
	token.GTE:          LESSGREATER,
	token.AND:          AND,
	token.OR:           OR,
	token.BIT_AND:      BIT_AND,
	token.BIT_OR:       BIT_OR,
	token.BIT_XOR:      BIT_XOR,
	token.SHIFT_LEFT:   SHIFT,
	token.SHIFT_RIGHT:  SHIFT,
	token.SHIFT_LEFT3:  SHIFT,
	token.SHIFT_RIGHT3: SHIFT,
	token.PLUS:         SUM,
	token.MINUS:        SUM,
	token.SLASH:        PRODUCT,
	token.STAR:         PRODUCT,
	token.PERCENT:      PRODUCT,
	token.LPAREN:       CALL,
	token.LBRACKET:     INDEX,
	token.DOT:          INDEX,
}

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekToken.Type]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.curToken.Type]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) registerPrefix(tokenType token.TokenType, fn func() ast.Expression) {
	p.prefixParseFns[tokenType] = fn
}

func (p *Parser) registerInfix(tokenType token.TokenType, fn func(ast.Expression) ast.Expression) {
	p.infixParseFns[tokenType] = fn
}

func (p *Parser) parseIdentifier() ast.Expression {
	return &ast.Identifier{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseIntegerLiteral() ast.Expression {
	lit := &ast.IntegerLiteral{Token: p.curToken}
	value, err := strconv.ParseInt(p.curToken.Literal, 0, 64)
	if err != nil {
		p.errorf("invalid integer literal %q", p.curToken.Literal)
	}
	lit.Value = value
	return lit
}

func (p *Parser) parseFloatLiteral() ast.Expression {
	lit := &ast.FloatLiteral{Token: p.curToken}
	value := float64(0)
	fmt.Sscanf(p.curToken.Literal, "%f", &value)
	lit.Value = value
	return lit
}

func (p *Parser) parseStringLiteral() ast.Expression {
	return &ast.StringLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseBytesLiteral() ast.Expression {
	return &ast.BytesLiteral{Token: p.curToken, Value: p.curToken.Literal}
}

func (p *Parser) parseNull() ast.Expression {
	return &ast.NullLiteral{Token: p.curToken}
}

func (p *Parser) parseZeros() ast.Expression {
	lit := &ast.ZerosLiteral{Token: p.curToken}
	if !p.expectPeek(token.LPAREN) {
		return nil
	}
	p.nextToken()
	lit.Size = p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return nil
	}
	return lit
}

func (p *Parser) parseBoolean() ast.Expression {
	return &ast.Boolean{Token: p.curToken, Value: p.curTokenIs(token.TRUE)}
}

func (p *Parser) parseThis() ast.Expression {
	return &ast.ThisExpression{Token: p.curToken}
}

func (p *Parser) parseSuper() ast.Expression {
	tok := p.curToken
	if p.peekTokenIs(token.DOT) {
		p.nextToken() // eat 'super' -> '.'
		if !p.expectPeek(token.IDENTIFIER) {
			return nil
		}
		return &ast.SuperExpression{Token: tok, Method: p.curToken.Literal}
	}
	return &ast.SuperExpression{Token: tok}
}

func (p *Parser) parseAwait() ast.Expression {
	tok := p.curToken
	p.nextToken()
	value := p.parseExpression(PREFIX)
	return &ast.AwaitExpression{Token: tok, Value: value}
}

// parseThreadCall parses `spawn f(args)` / `thread f(args)` (spec §5
// Concurrency "SpawnThread"): Callee must be applied to an argument
// list right here, since the opcode needs both in one instruction.
func (p *Parser) parseThreadCall() ast.Expression {
	tok := p.curToken
	p.nextToken()
	callee := p.parseExpression(CALL)
	call, ok := callee.(*ast.CallExpression)
	if !ok {
		p.errorf("expected a call expression after '%s'", tok.Literal)
		return nil
	}
	return &ast.ThreadCallExpression{Token: tok, Callee: call.Function, Arguments: call.Arguments}
}

func (p *Parser) parseMutex() ast.Expression {
	tok := p.curToken
	if p.peekTokenIs(token.LPAREN) {
		p.nextToken()
		if !p.expectPeek(token.RPAREN) {
			return nil
		}
	}
	return &ast.MutexExpression{Token: tok}
}

// parseTemplateString splits a lexed FSTRING literal on `{...}`
// boundaries (escaped braces already resolved by the lexer) into a
// sequence of literal-text and re-parsed sub-expression parts.
func (p *Parser) parseTemplateString() ast.Expression {
	tok := p.curToken
	literal := tok.Literal
	expr := &ast.TemplateStringExpression{Token: tok}

	lastIdx := 0
	for i := 0; i < len(literal); i++ {
		if literal[i] != '{' {
			continue
		}
		if i > lastIdx {
			expr.Parts = append(expr.Parts, ast.TemplateStringPart{Text: literal[lastIdx:i]})
		}

		depth := 1
		j := i + 1
		for ; j < len(literal); j++ {
			switch literal[j] {
			case '{':
				depth++
			case '}':
				depth--
			}
			if depth == 0 {
				break
			}
		}
		if j >= len(literal) {
			p.errorf("unclosed '{' in template string")
			return nil
		}

		inner := literal[i+1 : j]
		innerLexer := lexer.New(inner)
		innerParser := New(innerLexer)
		innerExpr := innerParser.parseExpression(LOWEST)
		for _, e := range innerParser.Errors() {
			p.errors = append(p.errors, "template string: "+e)
		}
		expr.Parts = append(expr.Parts, ast.TemplateStringPart{Expr: innerExpr})

		lastIdx = j + 1
		i = j
	}

	if lastIdx < len(literal) {
		expr.Parts = append(expr.Parts, ast.TemplateStringPart{Text: literal[lastIdx:]})
	}

	return expr
}

func (p *Parser) parsePrefixExpression() ast.Expression {
	expression := &ast.PrefixExpression{Token: p.curToken, Operator: p.curToken.Literal}
	p.nextToken()
	expression.Right = p.parseExpression(PREFIX)
	return expression
}

func (p *Parser) parseInfixExpression(left ast.Expression) ast.Expression {
	expression := &ast.InfixExpression{Token: p.curToken, Operator: p.curToken.Literal, Left: left}
	precedence := p.curPrecedence()
	p.nextToken()
	expression.Right = p.parseExpression(precedence)
	return expression
}

// parseParenExpression disambiguates a grouped expression `(expr)`
// from a tuple literal `(a, b, ...)` (spec §6 "Tuple"): a top-level
// comma before the closing paren makes it a tuple.
func (p *Parser) parseParenExpression() ast.Expression {
	tok := p.curToken
	p.nextToken()

	if p.curTokenIs(token.RPAREN) {
		return &ast.TupleLiteral{Token: tok}
	}

	first := p.parseExpression(LOWEST)

	if p.peekTokenIs(token.COMMA) {
		elements := []ast.Expression{first}
		for p.peekTokenIs(token.COMMA) {
			p.nextToken()
			p.nextToken()
			elements = append(elements, p.parseExpression(LOWEST))
		}
		if !p.expectPeek(token.RPAREN) {
			return nil
		}
		return &ast.TupleLiteral{Token: tok, Elements: elements}
	}

	if !p.expectPeek(token.RPAREN) {
		return nil
	}

	// Lambda: (params) => body
	if p.peekTokenIs(token.FAT_ARROW) {
		params, ok := paramsFromExpr(first)
		if !ok {
			p.errorf("invalid lambda parameter list")
			return nil
		}
		p.nextToken() // eat ')'  -> '=>'
		p.nextToken() // eat '=>' -> body start
		return p.parseLambdaBody(tok, params)
	}

	return first
}

// paramsFromExpr converts the already-parsed grouped expression into a
// parameter-name list so `(x, y) => x + y` can be told apart from a
// tuple only once the fat arrow is seen.
func paramsFromExpr(expr ast.Expression) ([]*ast.Identifier, bool) {
	switch e := expr.(type) {
	case *ast.Identifier:
		return []*ast.Identifier{e}, true
	case *ast.TupleLiteral:
		var params []*ast.Identifier
		for _, el := range e.Elements {
			ident, ok := el.(*ast.Identifier)
			if !ok {
				return nil, false
			}
			params = append(params, ident)
		}
		return params, true
	}
	return nil, false
}

func (p *Parser) parseLambdaBody(tok token.Token, params []*ast.Identifier) ast.Expression {
	if p.curTokenIs(token.DO) {
		body := p.parseBlockStatement()
		if !p.curTokenIs(token.END) {
			p.errorf("expected 'end', found %s", p.tokenDesc(p.curToken))
			return nil
		}
		return &ast.LambdaExpression{Token: tok, Parameters: params, Body: body}
	}

	exprStmt := &ast.ExpressionStmt{Token: p.curToken, Expression: p.parseExpression(LOWEST)}
	body := &ast.BlockStatement{Token: tok, Statements: []ast.Statement{&ast.ReturnStmt{Token: tok, ReturnValue: exprStmt.Expression}}}
	return &ast.LambdaExpression{Token: tok, Parameters: params, Body: body}
}

func (p *Parser) parseArrayLiteral() ast.Expression {
	array := &ast.ArrayLiteral{Token: p.curToken}
	array.Elements = p.parseExpressionList(token.RBRACKET)
	return array
}

func (p *Parser) parseExpressionList(end token.TokenType) []ast.Expression {
	var list []ast.Expression

	if p.peekTokenIs(end) {
		p.nextToken()
		return list
	}

	p.nextToken()
	list = append(list, p.parseExpression(LOWEST))

	for p.peekTokenIs(token.COMMA) {
		p.nextToken()
		p.nextToken()
		list = append(list, p.parseExpression(LOWEST))
	}

	if !p.expectPeek(end) {
		return nil
	}

	return list
}

func (p *Parser) parseMapLiteral() ast.Expression {
	ml := &ast.MapLiteral{Token: p.curToken}

	for !p.peekTokenIs(token.RBRACE) {
		p.nextToken()
		key := p.parseExpression(LOWEST)

		if !p.expectPeek(token.COLON) {
			return nil
		}
		p.nextToken()
		value := p.parseExpression(LOWEST)

		ml.Keys = append(ml.Keys, key)
		ml.Values = append(ml.Values, value)

		if !p.peekTokenIs(token.RBRACE) && !p.expectPeek(token.COMMA) {
			return nil
		}
	}

	if !p.expectPeek(token.RBRACE) {
		return nil
	}

	return ml
}

func (p *Parser) parseIndexExpression(left ast.Expression) ast.Expression {
	exp := &ast.IndexExpression{Token: p.curToken, Left: left}
	p.nextToken()
	exp.Index = p.parseExpression(LOWEST)
	if !p.expectPeek(token.RBRACKET) {
		return nil
	}
	return exp
}

func (p *Parser) parseMemberAccess(left ast.Expression) ast.Expression {
	tok := p.curToken
	if !p.expectPeek(token.IDENTIFIER) {
		return nil
	}
	return &ast.MemberAccessExpression{Token: tok, Left: left, Member: p.curToken.Literal}
}

func (p *Parser) parseCallExpression(function ast.Expression) ast.Expression {
	exp := &ast.CallExpression{Token: p.curToken, Function: function}
	exp.Arguments = p.parseCallArguments()
	return exp
}

func (p *Parser) parseCallArguments() []ast.Expression {
	return p.parseExpressionList(token.RPAREN)
}
