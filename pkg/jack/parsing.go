package jack

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	pc "github.com/prataprc/goparsec"
	"its-hmny.dev/nand2tetris/pkg/utils"
)

// ----------------------------------------------------------------------------
// Parser Combinator(s)

// This section defines the Parser Combinator for every token & construct of the Jack language.
//
// Each parser combinator either manages a top level construct (Class, Subroutine, ...) or some
// pieces of it: namely tokens, literals and identifiers. Comments are supported at class level
// (above a field or subroutine) and at statement level (above a statement), matching the only
// two positions actually exercised by real Jack source in the wild.

// Top level object, will generate the traversable AST based on the input plus the PCs below.
var ast = pc.NewAST("jack_program", 0)

var (
	// Parser combinator for an entire class declaration, the only top-level construct in Jack.
	pClass = ast.And("class_decl", nil,
		pc.Atom("class", "CLASS"), pIdent, pLBrace,
		ast.Kleene("class_body", nil, ast.OrdChoice("class_item", nil, pComment, pClassVarDec, pSubroutineDec)),
		pRBrace,
	)

	// Parser combinator for comments, supported both as single and multi line.
	pComment = ast.OrdChoice("comment", nil,
		ast.And("sl_comment", nil, pc.Atom("//", "//"), pc.Token(`(?m).*$`, "COMMENT")),
		ast.And("ml_comment", nil, pc.Token(`/\*[^*]*\*+(?:[^/*][^*]*\*+)*/`, "COMMENT")),
	)

	// A class' field or static variable declaration, e.g. "field int x, y;"
	pClassVarDec = ast.And("class_var_dec", nil,
		pVarScope, pDataType, pIdent, ast.Kleene("more_vars", nil, pIdent, pComma), pSemi,
	)
	pVarScope = ast.OrdChoice("var_scope", nil, pc.Atom("static", "STATIC"), pc.Atom("field", "FIELD"))

	// A subroutine declaration (constructor, function or method), e.g. "method void draw() { ... }"
	pSubroutineDec = ast.And("subroutine_dec", nil,
		pSubroutineKind, pReturnType, pIdent,
		pLParen, ast.Kleene("param_list", nil, ast.And("param", nil, pDataType, pIdent), pComma), pRParen,
		pSubroutineBody,
	)
	pSubroutineKind = ast.OrdChoice("subroutine_kind", nil,
		pc.Atom("constructor", "CONSTRUCTOR"), pc.Atom("function", "FUNCTION"), pc.Atom("method", "METHOD"),
	)
	pReturnType = ast.OrdChoice("return_type", nil, pc.Atom("void", "VOID"), pDataType)

	// A subroutine's body: local variable declarations followed by its statements.
	pSubroutineBody = ast.And("subroutine_body", nil,
		pLBrace, ast.Kleene("var_decs", nil, pVarDec), pStatements, pRBrace,
	)
	pVarDec = ast.And("var_dec", nil,
		pc.Atom("var", "VAR"), pDataType, pIdent, ast.Kleene("more_vars", nil, pIdent, pComma), pSemi,
	)
)

var (
	pStatements = ast.Kleene("statements", nil, ast.OrdChoice("stmt_item", nil, pComment, pStatement))

	pStatement = ast.OrdChoice("statement", nil, pLetStmt, pIfStmt, pWhileStmt, pDoStmt, pReturnStmt)

	// "let x = expr;" or "let arr[idx] = expr;"
	pLetStmt = ast.And("let_stmt", nil,
		pc.Atom("let", "LET"), pIdent,
		ast.Maybe("maybe_index", nil, ast.And("index", nil, pLBracket, pExpr, pRBracket)),
		pAssign, pExpr, pSemi,
	)

	// "if (cond) { ... } else { ... }", the else branch is optional
	pIfStmt = ast.And("if_stmt", nil,
		pc.Atom("if", "IF"), pLParen, pExpr, pRParen, pLBrace, pStatements, pRBrace,
		ast.Maybe("maybe_else", nil, ast.And("else_block", nil, pc.Atom("else", "ELSE"), pLBrace, pStatements, pRBrace)),
	)

	// "while (cond) { ... }"
	pWhileStmt = ast.And("while_stmt", nil, pc.Atom("while", "WHILE"), pLParen, pExpr, pRParen, pLBrace, pStatements, pRBrace)

	// "do Foo.bar(x, y);"
	pDoStmt = ast.And("do_stmt", nil, pc.Atom("do", "DO"), pSubroutineCall, pSemi)

	// "return;" or "return expr;"
	pReturnStmt = ast.And("return_stmt", nil, pc.Atom("return", "RETURN"), ast.Maybe("maybe_expr", nil, pExpr), pSemi)
)

var (
	// An expression is a term followed by zero or more (operator, term) pairs, left-associative.
	pExpr = ast.And("expr", nil, pTerm, ast.Kleene("expr_rest", nil, ast.And("bin_op", nil, pOp, pTerm)))

	pOp = ast.OrdChoice("op", nil,
		pc.Atom("+", "PLUS"), pc.Atom("-", "MINUS"), pc.Atom("*", "STAR"), pc.Atom("/", "SLASH"),
		pc.Atom("&", "AMP"), pc.Atom("|", "PIPE"), pc.Atom("<", "LESS"), pc.Atom(">", "GREAT"), pc.Atom("=", "EQ"),
	)

	// A term, tried in an order where the more specific (longer) alternatives come first so that
	// e.g. a subroutine call or array access isn't swallowed early by the bare identifier branch.
	pTerm = ast.OrdChoice("term", nil,
		pSubroutineCall, pArrayExpr, pUnaryExpr, pParenExpr, pLiteral, pVarExpr,
	)

	pSubroutineCall = ast.OrdChoice("subroutine_call", nil,
		ast.And("ext_call", nil, pIdent, pDot, pIdent, pLParen, pExprList, pRParen),
		ast.And("local_call", nil, pIdent, pLParen, pExprList, pRParen),
	)
	pExprList = ast.Kleene("expr_list", nil, pExpr, pComma)

	pArrayExpr = ast.And("array_expr", nil, pIdent, pLBracket, pExpr, pRBracket)
	pVarExpr   = ast.And("var_expr", nil, pIdent)

	pUnaryExpr = ast.And("unary_expr", nil, pUnaryOp, pTerm)
	pUnaryOp   = ast.OrdChoice("unary_op", nil, pc.Atom("-", "MINUS"), pc.Atom("~", "NEG"))

	pParenExpr = ast.And("paren_expr", nil, pLParen, pExpr, pRParen)

	// ! The order of this PCs is important: by putting Int() before Float() we'll not be able to parse a float
	// ! completely because the integer part will be picked up by the Int() PC before given back control to pExpr.
	pLiteral = ast.OrdChoice("literal", nil,
		pc.Float(), pc.Int(), pc.Token(`"(?:\\.|[^"\\])*"`, "STRING"), pKeywordConst,
	)
	pKeywordConst = ast.OrdChoice("keyword_const", nil,
		pc.Atom("true", "TRUE"), pc.Atom("false", "FALSE"), pc.Atom("null", "NULL"), pc.Atom("this", "THIS"),
	)
)

var (
	// Generic Identifier parser (for class, subroutine, variable names)
	// NOTE: An ident can be any sequence of letters, digits and underscore, not leading w/ a digit.
	pIdent = pc.Token(`[A-Za-z_][0-9a-zA-Z_]*`, "IDENT")

	pDot      = pc.Atom(".", "DOT")
	pSemi     = pc.Atom(";", "SEMI")
	pComma    = pc.Atom(",", "COMMA")
	pAssign   = pc.Atom("=", "ASSIGN")
	pLBrace   = pc.Atom("{", "LBRACE")
	pRBrace   = pc.Atom("}", "RBRACE")
	pLParen   = pc.Atom("(", "LPAREN")
	pRParen   = pc.Atom(")", "RPAREN")
	pLBracket = pc.Atom("[", "LBRACKET")
	pRBracket = pc.Atom("]", "RBRACKET")

	// Available primitive data types, plus a bare ident to cover class (object) types.
	pDataType = ast.OrdChoice("data_type", nil,
		pc.Atom("int", "INT_T"), pc.Atom("char", "CHAR_T"), pc.Atom("boolean", "BOOL_T"), pIdent,
	)
)

// ----------------------------------------------------------------------------
// Jack Parser

// This section defines the Parser for the nand2tetris Jack language.
//
// It uses parser combinator(s) to obtain the AST from the source code (the latter can be provided)
// in multiple ways using a generic io.Reader, the library reads up the feature flags (as env vars):
// - PARSEC_DEBUG: Verbose logging to inspect which of the PCs gets triggered and match
// - EXPORT_AST:   Exports in the DEBUG_FOLDER a Graphviz representation of the AST
// - PRINT_AST:    Print on the stdout a textual representation of the AST
type Parser struct{ reader io.Reader }

// Initializes and returns to the caller a brand new 'Parser' struct.
// Requires the argument io.Reader 'r' to be valid and usable.
func NewParser(r io.Reader) Parser {
	return Parser{reader: r}
}

// Parser entrypoint divides the 2 phases of the parsing pipeline
// Text --> AST: This step is done using PCs and returns a generic traversable AST
// AST --> IR: This step is done by traversing the AST and extracting the 'jack.Class'
func (p *Parser) Parse() (Class, error) {
	content, err := io.ReadAll(p.reader)
	if err != nil {
		return Class{}, fmt.Errorf("cannot read from 'io.Reader': %s", err)
	}

	root, success := p.FromSource(content)
	if !success {
		return Class{}, fmt.Errorf("failed to parse AST from input content")
	}

	return p.FromAST(root)
}

// Scans the textual input stream coming from the 'reader' method and returns a traversable AST
// (Abstract Syntax Tree) that can be eventually visited to extract/transform the info available.
func (p *Parser) FromSource(source []byte) (pc.Queryable, bool) {

	// Feature flag: Enable 'goparsec' library's debug logs
	if os.Getenv("PARSEC_DEBUG") != "" {
		ast.SetDebug()
	}

	// We generate the traversable Abstract Syntax Tree from the source content
	root, _ := ast.Parsewith(pClass, pc.NewScanner(source))

	// Feature flag: Enables export of the AST as Dot file (debug.ast.fot)
	if os.Getenv("EXPORT_AST") != "" {
		file, _ := os.Create(fmt.Sprintf("%s/debug.ast.dot", os.Getenv("DEBUG_FOLDER")))
		defer file.Close()

		file.Write([]byte(ast.Dotstring("\"Jack AST\"")))
	}

	// Feature flag: Enables pretty printing of the AST on the console
	if os.Getenv("PRINT_AST") != "" {
		ast.Prettyprint()
	}
	// TODO (hmny): This hardcoding to true should be changed
	return root, true // Success is based on the reaching of 'EOF'
}

// This function takes the root node of the raw parsed AST and does a DFS on it parsing
// one by one each subtree and returning a 'jack.Class' that can be used as in-memory and
// type-safe AST not dependent on the parsing library used.
func (p *Parser) FromAST(root pc.Queryable) (Class, error) {
	if root.GetName() != "class_decl" {
		return Class{}, fmt.Errorf("expected node 'class_decl', found %s", root.GetName())
	}

	children := root.GetChildren()
	if len(children) != 5 {
		return Class{}, fmt.Errorf("expected node 'class_decl' with 5 children, got %d", len(children))
	}

	class := Class{
		Name:        children[1].GetValue(),
		Fields:      utils.NewOrderedMap[string, Variable](),
		Subroutines: utils.NewOrderedMap[string, Subroutine](),
	}

	for _, item := range children[3].GetChildren() {
		switch item.GetName() {
		case "class_var_dec":
			vars, err := p.HandleClassVarDec(item)
			if err != nil {
				return Class{}, fmt.Errorf("error handling class field declaration: %w", err)
			}
			for _, v := range vars {
				class.Fields.Set(v.Name, v)
			}

		case "subroutine_dec":
			sub, err := p.HandleSubroutineDec(item)
			if err != nil {
				return Class{}, fmt.Errorf("error handling subroutine declaration: %w", err)
			}
			class.Subroutines.Set(sub.Name, sub)

		case "sl_comment", "ml_comment":
			continue

		default:
			return Class{}, fmt.Errorf("unrecognized node '%s' in class body", item.GetName())
		}
	}

	return class, nil
}

// Specialized function to convert a "class_var_dec" node to a list of 'jack.Variable'.
func (Parser) HandleClassVarDec(node pc.Queryable) ([]Variable, error) {
	children := node.GetChildren()
	if len(children) < 3 {
		return nil, fmt.Errorf("expected node 'class_var_dec' with at least 3 children, got %d", len(children))
	}

	varType, err := parseVarScope(children[0].GetValue())
	if err != nil {
		return nil, err
	}
	dataType := parseDataType(children[1])

	vars := []Variable{{Name: children[2].GetValue(), VarType: varType, DataType: dataType}}
	for _, extra := range children[3].GetChildren() { // "more_vars" Kleene node
		vars = append(vars, Variable{Name: extra.GetValue(), VarType: varType, DataType: dataType})
	}

	return vars, nil
}

// Specialized function to convert a "subroutine_dec" node to a 'jack.Subroutine'.
func (Parser) HandleSubroutineDec(node pc.Queryable) (Subroutine, error) {
	children := node.GetChildren()
	if len(children) != 7 {
		return Subroutine{}, fmt.Errorf("expected node 'subroutine_dec' with 7 children, got %d", len(children))
	}

	kind := SubroutineType(children[0].GetValue())
	returnType := parseReturnType(children[1])
	name := children[2].GetValue()

	arguments := utils.NewOrderedMap[string, Variable]()
	for _, param := range children[4].GetChildren() { // "param_list" Kleene node
		pChildren := param.GetChildren()
		if len(pChildren) != 2 {
			return Subroutine{}, fmt.Errorf("expected node 'param' with 2 children, got %d", len(pChildren))
		}
		variable := Variable{Name: pChildren[1].GetValue(), VarType: Parameter, DataType: parseDataType(pChildren[0])}
		arguments.Set(variable.Name, variable)
	}

	body := children[6] // "subroutine_body"
	bChildren := body.GetChildren()
	if len(bChildren) != 4 {
		return Subroutine{}, fmt.Errorf("expected node 'subroutine_body' with 4 children, got %d", len(bChildren))
	}

	statements := []Statement{}

	for _, decl := range bChildren[1].GetChildren() { // "var_decs" Kleene node
		vars, err := HandleVarDec(decl)
		if err != nil {
			return Subroutine{}, fmt.Errorf("error handling local variable declaration: %w", err)
		}
		statements = append(statements, VarStmt{Vars: vars})
	}

	for _, item := range bChildren[2].GetChildren() { // "statements" Kleene node
		if item.GetName() == "sl_comment" || item.GetName() == "ml_comment" {
			continue
		}
		stmt, err := HandleStatement(item)
		if err != nil {
			return Subroutine{}, fmt.Errorf("error handling statement: %w", err)
		}
		statements = append(statements, stmt)
	}

	return Subroutine{Name: name, Type: kind, Return: returnType, Arguments: arguments, Statements: statements}, nil
}

// Specialized function to convert a "var_dec" node to a list of 'jack.Variable'.
func HandleVarDec(node pc.Queryable) ([]Variable, error) {
	children := node.GetChildren()
	if len(children) < 3 {
		return nil, fmt.Errorf("expected node 'var_dec' with at least 3 children, got %d", len(children))
	}

	dataType := parseDataType(children[1])

	vars := []Variable{{Name: children[2].GetValue(), VarType: Local, DataType: dataType}}
	for _, extra := range children[3].GetChildren() { // "more_vars" Kleene node
		vars = append(vars, Variable{Name: extra.GetValue(), VarType: Local, DataType: dataType})
	}

	return vars, nil
}

// Generalized function to convert a statement node to a 'jack.Statement'.
func HandleStatement(node pc.Queryable) (Statement, error) {
	switch node.GetName() {
	case "let_stmt":
		return HandleLetStmt(node)
	case "if_stmt":
		return HandleIfStmt(node)
	case "while_stmt":
		return HandleWhileStmt(node)
	case "do_stmt":
		return HandleDoStmt(node)
	case "return_stmt":
		return HandleReturnStmt(node)
	default:
		return nil, fmt.Errorf("unrecognized statement node '%s'", node.GetName())
	}
}

// Specialized function to convert a "let_stmt" node to a 'jack.LetStmt'.
func HandleLetStmt(node pc.Queryable) (Statement, error) {
	children := node.GetChildren()
	if len(children) != 6 {
		return nil, fmt.Errorf("expected node 'let_stmt' with 6 children, got %d", len(children))
	}

	name, maybeIndex, rhsNode := children[1], children[2], children[4]

	var lhs Expression = VarExpr{Var: name.GetValue()}
	if len(maybeIndex.GetChildren()) == 3 { // "index" node matched: '[' expr ']'
		index, err := HandleExpr(maybeIndex.GetChildren()[1])
		if err != nil {
			return nil, fmt.Errorf("error handling array index expression: %w", err)
		}
		lhs = ArrayExpr{Var: name.GetValue(), Index: index}
	}

	rhs, err := HandleExpr(rhsNode)
	if err != nil {
		return nil, fmt.Errorf("error handling RHS expression: %w", err)
	}

	return LetStmt{Lhs: lhs, Rhs: rhs}, nil
}

// Specialized function to convert an "if_stmt" node to a 'jack.IfStmt'.
func HandleIfStmt(node pc.Queryable) (Statement, error) {
	children := node.GetChildren()
	if len(children) != 8 {
		return nil, fmt.Errorf("expected node 'if_stmt' with 8 children, got %d", len(children))
	}

	cond, err := HandleExpr(children[2])
	if err != nil {
		return nil, fmt.Errorf("error handling if condition expression: %w", err)
	}

	thenBlock, err := HandleStatements(children[5])
	if err != nil {
		return nil, fmt.Errorf("error handling 'then' block: %w", err)
	}

	elseBlock := []Statement{}
	if maybeElse := children[7]; len(maybeElse.GetChildren()) == 4 { // "else_block" node matched
		elseBlock, err = HandleStatements(maybeElse.GetChildren()[2])
		if err != nil {
			return nil, fmt.Errorf("error handling 'else' block: %w", err)
		}
	}

	return IfStmt{Condition: cond, ThenBlock: thenBlock, ElseBlock: elseBlock}, nil
}

// Specialized function to convert a "while_stmt" node to a 'jack.WhileStmt'.
func HandleWhileStmt(node pc.Queryable) (Statement, error) {
	children := node.GetChildren()
	if len(children) != 7 {
		return nil, fmt.Errorf("expected node 'while_stmt' with 7 children, got %d", len(children))
	}

	cond, err := HandleExpr(children[2])
	if err != nil {
		return nil, fmt.Errorf("error handling while condition expression: %w", err)
	}

	block, err := HandleStatements(children[5])
	if err != nil {
		return nil, fmt.Errorf("error handling while block: %w", err)
	}

	return WhileStmt{Condition: cond, Block: block}, nil
}

// Specialized function to convert a "do_stmt" node to a 'jack.DoStmt'.
func HandleDoStmt(node pc.Queryable) (Statement, error) {
	children := node.GetChildren()
	if len(children) != 3 {
		return nil, fmt.Errorf("expected node 'do_stmt' with 3 children, got %d", len(children))
	}

	call, err := HandleSubroutineCall(children[1])
	if err != nil {
		return nil, fmt.Errorf("error handling function call expression: %w", err)
	}

	return DoStmt{FuncCall: call}, nil
}

// Specialized function to convert a "return_stmt" node to a 'jack.ReturnStmt'.
func HandleReturnStmt(node pc.Queryable) (Statement, error) {
	children := node.GetChildren()
	if len(children) != 3 {
		return nil, fmt.Errorf("expected node 'return_stmt' with 3 children, got %d", len(children))
	}

	if maybeExpr := children[1]; len(maybeExpr.GetChildren()) > 0 {
		expr, err := HandleExpr(maybeExpr)
		if err != nil {
			return nil, fmt.Errorf("error handling return expression: %w", err)
		}
		return ReturnStmt{Expr: expr}, nil
	}

	return ReturnStmt{}, nil
}

// Converts a "statements" Kleene node into a '[]jack.Statement', skipping comment nodes.
func HandleStatements(node pc.Queryable) ([]Statement, error) {
	statements := []Statement{}
	for _, item := range node.GetChildren() {
		if item.GetName() == "sl_comment" || item.GetName() == "ml_comment" {
			continue
		}
		stmt, err := HandleStatement(item)
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}

// Specialized function to convert an "expr" node to a 'jack.Expression', folding the
// (operator, term) tail into a left-associative tree of 'jack.BinaryExpr'.
func HandleExpr(node pc.Queryable) (Expression, error) {
	if node.GetName() != "expr" {
		return nil, fmt.Errorf("expected node 'expr', got %s", node.GetName())
	}
	children := node.GetChildren()
	if len(children) != 2 {
		return nil, fmt.Errorf("expected node 'expr' with 2 children, got %d", len(children))
	}

	lhs, err := HandleTerm(children[0])
	if err != nil {
		return nil, fmt.Errorf("error handling term: %w", err)
	}

	for _, binOp := range children[1].GetChildren() { // "expr_rest" Kleene node
		opChildren := binOp.GetChildren()
		if len(opChildren) != 2 {
			return nil, fmt.Errorf("expected node 'bin_op' with 2 children, got %d", len(opChildren))
		}

		exprType, err := parseExprType(opChildren[0].GetValue())
		if err != nil {
			return nil, err
		}

		rhs, err := HandleTerm(opChildren[1])
		if err != nil {
			return nil, fmt.Errorf("error handling term: %w", err)
		}

		lhs = BinaryExpr{Type: exprType, Lhs: lhs, Rhs: rhs}
	}

	return lhs, nil
}

// Specialized function to convert a "term" node to a 'jack.Expression'.
//
// 'term' itself is an ast.OrdChoice, which the goparsec AST flattens completely
// away: the node handed to us here already carries the matched alternative's own
// name (e.g. "array_expr", "var_expr", or a literal token like "INT"/"TRUE"),
// never the literal name "term" nor any other OrdChoice wrapper name.
func HandleTerm(node pc.Queryable) (Expression, error) {
	switch node.GetName() {
	case "ext_call", "local_call":
		return HandleSubroutineCall(node)
	case "array_expr":
		return HandleArrayExpr(node)
	case "unary_expr":
		return HandleUnaryExpr(node)
	case "paren_expr":
		return HandleExpr(node.GetChildren()[1])
	case "var_expr":
		return VarExpr{Var: node.GetChildren()[0].GetValue()}, nil
	case "INT", "FLOAT", "STRING", "TRUE", "FALSE", "NULL", "THIS":
		return HandleLiteral(node)
	default:
		return nil, fmt.Errorf("unrecognized term node '%s'", node.GetName())
	}
}

// Specialized function to convert a "subroutine_call" node to a 'jack.FuncCallExpr'.
// Like 'pTerm' above, 'pSubroutineCall' is an ast.OrdChoice and is never seen by name;
// 'node' here is already flattened to either its "ext_call" or "local_call" alternative.
func HandleSubroutineCall(node pc.Queryable) (FuncCallExpr, error) {
	switch node.GetName() {
	case "ext_call":
		children := node.GetChildren()
		if len(children) != 6 {
			return FuncCallExpr{}, fmt.Errorf("expected node 'ext_call' with 6 children, got %d", len(children))
		}
		args, err := HandleExprList(children[4])
		if err != nil {
			return FuncCallExpr{}, err
		}
		return FuncCallExpr{IsExtCall: true, Var: children[0].GetValue(), FuncName: children[2].GetValue(), Arguments: args}, nil

	case "local_call":
		children := node.GetChildren()
		if len(children) != 4 {
			return FuncCallExpr{}, fmt.Errorf("expected node 'local_call' with 4 children, got %d", len(children))
		}
		args, err := HandleExprList(children[2])
		if err != nil {
			return FuncCallExpr{}, err
		}
		return FuncCallExpr{IsExtCall: false, FuncName: children[0].GetValue(), Arguments: args}, nil

	default:
		return FuncCallExpr{}, fmt.Errorf("unrecognized subroutine call node '%s'", node.GetName())
	}
}

// Converts an "expr_list" Kleene node into a '[]jack.Expression'.
func HandleExprList(node pc.Queryable) ([]Expression, error) {
	exprs := []Expression{}
	for _, child := range node.GetChildren() {
		expr, err := HandleExpr(child)
		if err != nil {
			return nil, fmt.Errorf("error handling argument expression: %w", err)
		}
		exprs = append(exprs, expr)
	}
	return exprs, nil
}

// Specialized function to convert an "array_expr" node to a 'jack.ArrayExpr'.
func HandleArrayExpr(node pc.Queryable) (Expression, error) {
	children := node.GetChildren()
	if len(children) != 4 {
		return nil, fmt.Errorf("expected node 'array_expr' with 4 children, got %d", len(children))
	}

	index, err := HandleExpr(children[2])
	if err != nil {
		return nil, fmt.Errorf("error handling array index expression: %w", err)
	}

	return ArrayExpr{Var: children[0].GetValue(), Index: index}, nil
}

// Specialized function to convert a "unary_expr" node to a 'jack.UnaryExpr'.
func HandleUnaryExpr(node pc.Queryable) (Expression, error) {
	children := node.GetChildren()
	if len(children) != 2 {
		return nil, fmt.Errorf("expected node 'unary_expr' with 2 children, got %d", len(children))
	}

	rhs, err := HandleTerm(children[1])
	if err != nil {
		return nil, fmt.Errorf("error handling nested term: %w", err)
	}

	switch children[0].GetValue() {
	case "-":
		return UnaryExpr{Type: Negation, Rhs: rhs}, nil
	case "~":
		return UnaryExpr{Type: BoolNot, Rhs: rhs}, nil
	default:
		return nil, fmt.Errorf("unrecognized unary operator '%s'", children[0].GetValue())
	}
}

// maxIntLiteral is the largest integer constant the Jack language allows (a signed 16-bit
// VM word is pushed on its behalf, so anything above this cannot round-trip through the VM).
const maxIntLiteral = 32767

// Specialized function to convert a literal token/keyword-constant node to a 'jack.LiteralExpr'
// (or a 'jack.VarExpr' in the special case of the 'this' keyword, which refers to the current
// object instance). Like 'HandleTerm' above, every parser combinator feeding into this function
// ('pLiteral', 'pKeywordConst') is an ast.OrdChoice flattened away by the AST, so 'node' is
// already the matched leaf token itself (e.g. "INT", "TRUE"), never a "literal" wrapper.
func HandleLiteral(node pc.Queryable) (Expression, error) {
	switch node.GetName() {
	case "INT":
		value, err := strconv.Atoi(node.GetValue())
		if err != nil {
			return nil, fmt.Errorf("malformed integer literal '%s': %s", node.GetValue(), err)
		}
		if value < 0 || value > maxIntLiteral {
			return nil, fmt.Errorf("integer literal '%d' out of range (0..%d)", value, maxIntLiteral)
		}
		return LiteralExpr{Type: DataType{Main: Int}, Value: node.GetValue()}, nil
	case "FLOAT":
		return nil, fmt.Errorf("floating point literals are not supported by the Jack language")
	case "STRING":
		return LiteralExpr{Type: DataType{Main: String}, Value: strings.Trim(node.GetValue(), `"`)}, nil
	case "TRUE":
		return LiteralExpr{Type: DataType{Main: Bool}, Value: "true"}, nil
	case "FALSE":
		return LiteralExpr{Type: DataType{Main: Bool}, Value: "false"}, nil
	case "NULL":
		return LiteralExpr{Type: DataType{Main: Object}, Value: "null"}, nil
	case "THIS":
		return VarExpr{Var: "this"}, nil
	default:
		return nil, fmt.Errorf("unrecognized literal node '%s'", node.GetName())
	}
}

// ----------------------------------------------------------------------------
// Small helpers shared by the handlers above

func parseVarScope(value string) (VarType, error) {
	switch value {
	case "static":
		return Static, nil
	case "field":
		return Field, nil
	default:
		return "", fmt.Errorf("unrecognized variable scope '%s'", value)
	}
}

// parseDataType converts a "data_type" node to a 'jack.DataType'. 'pDataType' is an ast.OrdChoice,
// flattened away by the AST, so 'node' is already the matched leaf (e.g. "INT_T" or bare "IDENT").
func parseDataType(node pc.Queryable) DataType {
	switch node.GetValue() {
	case "int":
		return DataType{Main: Int}
	case "char":
		return DataType{Main: Char}
	case "boolean":
		return DataType{Main: Bool}
	default:
		return DataType{Main: Object, Subtype: node.GetValue()}
	}
}

// parseReturnType converts a "return_type" node, which is either the 'void' keyword or a
// regular 'jack.DataType', to its 'jack.DataType' counterpart. 'pReturnType' is an ast.OrdChoice,
// flattened away by the AST, so 'node' is already either the "VOID" leaf or a data type leaf.
func parseReturnType(node pc.Queryable) DataType {
	if node.GetName() == "VOID" {
		return DataType{Main: Void}
	}
	return parseDataType(node)
}

func parseExprType(op string) (ExprType, error) {
	switch op {
	case "+":
		return Plus, nil
	case "-":
		return Minus, nil
	case "*":
		return Multiply, nil
	case "/":
		return Divide, nil
	case "&":
		return BoolAnd, nil
	case "|":
		return BoolOr, nil
	case "<":
		return LessThan, nil
	case ">":
		return GreatThan, nil
	case "=":
		return Equal, nil
	default:
		return "", fmt.Errorf("unrecognized binary operator '%s'", op)
	}
}
