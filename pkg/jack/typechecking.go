package jack

import (
	"fmt"
	"strings"
)

// The TypeChecker walks a 'jack.Program' and verifies that every statement and expression
// makes sense type-wise: variables are declared before use, operators receive operands of
// a compatible type, and every subroutine body returns a value compatible with its signature.
//
// It shares the 'ScopeTable' walking strategy with the 'Lowerer' (same DFS order, same
// Push/Pop calls around classes and subroutines) so that a variable resolves to the exact
// same declaration both passes agree on.
type TypeChecker struct {
	program Program
	scopes  ScopeTable // Keeps track of the scopes and declared variables inside each one

	curReturn DataType // The return type declared by the subroutine currently being checked
}

func NewTypeChecker(program Program) TypeChecker {
	return TypeChecker{program: program}
}

func (tc *TypeChecker) Check() (bool, error) {
	if tc.program == nil {
		return false, fmt.Errorf("the given 'program' is empty or nil")
	}

	for name, class := range tc.program {
		_, err := tc.HandleClass(class)
		if err != nil {
			return false, fmt.Errorf("error handling type-check of class '%s': %w", name, err)
		}

	}

	return true, nil
}

// Specialized function to type-check a 'jack.Class' and nested fields.
func (tc *TypeChecker) HandleClass(class Class) (bool, error) {
	tc.scopes.PushClassScope(class.Name) // Keep track of the current scope being processed
	defer tc.scopes.PopClassScope()      // Reset the function name after processing

	for _, field := range class.Fields.Entries() {
		_, err := tc.HandleVarStmt(VarStmt{Vars: []Variable{field}})
		if err != nil {
			return false, fmt.Errorf("error handling field '%s' in class '%s': %w", field.Name, class.Name, err)
		}
	}

	for _, subroutine := range class.Subroutines.Entries() {
		_, err := tc.HandleSubroutine(subroutine)
		if err != nil {
			return false, fmt.Errorf("error handling subroutine '%s' in class '%s': %w", subroutine.Name, class.Name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Subroutine' and nested fields.
func (tc *TypeChecker) HandleSubroutine(subroutine Subroutine) (bool, error) {
	tc.scopes.PushSubRoutineScope(subroutine.Name) // Keep track of the current subroutine function being processed
	defer tc.scopes.PopSubroutineScope()           // Reset the function name after processing

	prevReturn := tc.curReturn
	tc.curReturn = subroutine.Return
	defer func() { tc.curReturn = prevReturn }()

	// We add to the current scope also all of the arguments of the subroutine
	for _, arg := range subroutine.Arguments.Entries() {
		// Like this we're actually supporting shadowing of variables, so if a variable
		// with the same name is already present in the current scope, we just temporarily
		// override it with the most update one instead of returning an error (like Go does
		tc.scopes.RegisterVariable(arg)
	}

	for _, stmt := range subroutine.Statements {
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, fmt.Errorf("error handling nested statement %T: %w", stmt, err)
		}
	}

	return true, nil
}

// Generalized function to type-check multiple statements types.
func (tc *TypeChecker) HandleStatement(stmt Statement) (bool, error) {
	switch tStmt := stmt.(type) {
	case DoStmt:
		return tc.HandleDoStmt(tStmt)
	case VarStmt:
		return tc.HandleVarStmt(tStmt)
	case LetStmt:
		return tc.HandleLetStmt(tStmt)
	case IfStmt:
		return tc.HandleIfStmt(tStmt)
	case WhileStmt:
		return tc.HandleWhileStmt(tStmt)
	case ReturnStmt:
		return tc.HandleReturnStmt(tStmt)
	default:
		return false, fmt.Errorf("unrecognized statement: %T", stmt)
	}
}

// Specialized function to type-check a 'jack.DoStmt'.
func (tc *TypeChecker) HandleDoStmt(statement DoStmt) (bool, error) {
	if _, err := tc.HandleExpression(statement.FuncCall); err != nil {
		return false, fmt.Errorf("error handling nested function call expression: %w", err)
	}
	return true, nil
}

// Specialized function to type-check a 'jack.VarStmt'. Just registers the variables, since
// a declaration w/o an initializer cannot mismatch any type.
func (tc *TypeChecker) HandleVarStmt(statement VarStmt) (bool, error) {
	for _, variable := range statement.Vars {
		tc.scopes.RegisterVariable(variable)
	}
	return true, nil
}

// Specialized function to type-check a 'jack.LetStmt'.
func (tc *TypeChecker) HandleLetStmt(statement LetStmt) (bool, error) {
	rhs, err := tc.HandleExpression(statement.Rhs)
	if err != nil {
		return false, fmt.Errorf("error handling RHS expression: %w", err)
	}

	var lhs DataType
	switch expr := statement.Lhs.(type) {
	case VarExpr:
		_, variable, err := tc.scopes.ResolveVariable(expr.Var)
		if err != nil {
			return false, fmt.Errorf("error resolving variable '%s': %w", expr.Var, err)
		}
		lhs = variable.DataType

	case ArrayExpr:
		if _, err := tc.HandleExpression(expr); err != nil {
			return false, fmt.Errorf("error handling array expression: %w", err)
		}
		// Array cells are untyped in Jack, any value can be stored in them.
		return true, nil

	default:
		return false, fmt.Errorf("LHS expression must be either a 'VarExpr' or an 'ArrayExpr', got: %T", statement.Lhs)
	}

	if !compatibleTypes(lhs, rhs) {
		return false, fmt.Errorf("cannot assign value of type '%s' to variable of type '%s'", rhs.Main, lhs.Main)
	}

	return true, nil
}

// Specialized function to type-check a 'jack.IfStmt'.
func (tc *TypeChecker) HandleIfStmt(statement IfStmt) (bool, error) {
	cond, err := tc.HandleExpression(statement.Condition)
	if err != nil {
		return false, fmt.Errorf("error handling if condition expression: %w", err)
	}
	if cond.Main != Bool {
		return false, fmt.Errorf("if condition must be of type 'bool', got '%s'", cond.Main)
	}

	for _, stmt := range statement.ThenBlock {
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, fmt.Errorf("error handling statement in 'then' block: %w", err)
		}
	}
	for _, stmt := range statement.ElseBlock {
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, fmt.Errorf("error handling statement in 'else' block: %w", err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.WhileStmt'.
func (tc *TypeChecker) HandleWhileStmt(statement WhileStmt) (bool, error) {
	cond, err := tc.HandleExpression(statement.Condition)
	if err != nil {
		return false, fmt.Errorf("error handling while condition expression: %w", err)
	}
	if cond.Main != Bool {
		return false, fmt.Errorf("while condition must be of type 'bool', got '%s'", cond.Main)
	}

	for _, stmt := range statement.Block {
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, fmt.Errorf("error handling statement in while block: %w", err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.ReturnStmt'.
func (tc *TypeChecker) HandleReturnStmt(statement ReturnStmt) (bool, error) {
	if statement.Expr == nil {
		if tc.curReturn.Main != Void {
			return false, fmt.Errorf("subroutine declares return type '%s' but returns no value", tc.curReturn.Main)
		}
		return true, nil
	}

	ret, err := tc.HandleExpression(statement.Expr)
	if err != nil {
		return false, fmt.Errorf("error handling return expression: %w", err)
	}

	if !compatibleTypes(tc.curReturn, ret) {
		return false, fmt.Errorf("subroutine declares return type '%s' but returns '%s'", tc.curReturn.Main, ret.Main)
	}

	return true, nil
}

// Generalized function to type-check multiple expression types, returning their inferred type.
func (tc *TypeChecker) HandleExpression(expr Expression) (DataType, error) {
	switch tExpr := expr.(type) {
	case VarExpr:
		return tc.HandleVarExpr(tExpr)
	case LiteralExpr:
		return tc.HandleLiteralExpr(tExpr)
	case ArrayExpr:
		return tc.HandleArrayExpr(tExpr)
	case UnaryExpr:
		return tc.HandleUnaryExpr(tExpr)
	case BinaryExpr:
		return tc.HandleBinaryExpr(tExpr)
	case FuncCallExpr:
		return tc.HandleFuncCallExpr(tExpr)
	default:
		return DataType{}, fmt.Errorf("unrecognized expression: %T", expr)
	}
}

// Specialized function to type-check a 'jack.VarExpr'.
func (tc *TypeChecker) HandleVarExpr(expression VarExpr) (DataType, error) {
	if expression.Var == "this" {
		return DataType{Main: Object, Subtype: strings.Split(tc.scopes.GetScope(), ".")[0]}, nil
	}

	_, variable, err := tc.scopes.ResolveVariable(expression.Var)
	if err != nil {
		return DataType{}, fmt.Errorf("error resolving variable '%s': %w", expression.Var, err)
	}

	return variable.DataType, nil
}

// Specialized function to type-check a 'jack.LiteralExpr'.
func (tc *TypeChecker) HandleLiteralExpr(expression LiteralExpr) (DataType, error) {
	if expression.Type.Main == Object && expression.Value == "null" { // The parser types 'null' as a bare object
		return DataType{Main: Null}, nil
	}
	return expression.Type, nil
}

// Specialized function to type-check a 'jack.ArrayExpr'.
func (tc *TypeChecker) HandleArrayExpr(expression ArrayExpr) (DataType, error) {
	base, err := tc.HandleVarExpr(VarExpr{Var: expression.Var})
	if err != nil {
		return DataType{}, fmt.Errorf("error handling base variable expression: %w", err)
	}
	if base.Main != Object {
		return DataType{}, fmt.Errorf("variable '%s' is not an array", expression.Var)
	}

	index, err := tc.HandleExpression(expression.Index)
	if err != nil {
		return DataType{}, fmt.Errorf("error handling index expression: %w", err)
	}
	if index.Main != Int {
		return DataType{}, fmt.Errorf("array index must be of type 'int', got '%s'", index.Main)
	}

	// Array cells are untyped, we conservatively report them as 'int'.
	return DataType{Main: Int}, nil
}

// Specialized function to type-check a 'jack.UnaryExpr'.
func (tc *TypeChecker) HandleUnaryExpr(expression UnaryExpr) (DataType, error) {
	rhs, err := tc.HandleExpression(expression.Rhs)
	if err != nil {
		return DataType{}, fmt.Errorf("error handling nested expression: %w", err)
	}

	switch expression.Type {
	case Negation:
		if rhs.Main != Int {
			return DataType{}, fmt.Errorf("unary '-' requires an 'int' operand, got '%s'", rhs.Main)
		}
		return DataType{Main: Int}, nil
	case BoolNot:
		if rhs.Main != Bool {
			return DataType{}, fmt.Errorf("unary '~' requires a 'bool' operand, got '%s'", rhs.Main)
		}
		return DataType{Main: Bool}, nil
	default:
		return DataType{}, fmt.Errorf("unrecognized unary expression type: %s", expression.Type)
	}
}

// Specialized function to type-check a 'jack.BinaryExpr'.
func (tc *TypeChecker) HandleBinaryExpr(expression BinaryExpr) (DataType, error) {
	lhs, err := tc.HandleExpression(expression.Lhs)
	if err != nil {
		return DataType{}, fmt.Errorf("error handling nested LHS expression: %w", err)
	}
	rhs, err := tc.HandleExpression(expression.Rhs)
	if err != nil {
		return DataType{}, fmt.Errorf("error handling nested RHS expression: %w", err)
	}

	switch expression.Type {
	case Plus, Minus, Divide, Multiply:
		if lhs.Main != Int || rhs.Main != Int {
			return DataType{}, fmt.Errorf("arithmetic operator '%s' requires 'int' operands, got '%s' and '%s'", expression.Type, lhs.Main, rhs.Main)
		}
		return DataType{Main: Int}, nil

	case BoolOr, BoolAnd:
		if lhs.Main != Bool || rhs.Main != Bool {
			return DataType{}, fmt.Errorf("boolean operator '%s' requires 'bool' operands, got '%s' and '%s'", expression.Type, lhs.Main, rhs.Main)
		}
		return DataType{Main: Bool}, nil

	case Equal:
		if !compatibleTypes(lhs, rhs) {
			return DataType{}, fmt.Errorf("cannot compare incompatible types '%s' and '%s'", lhs.Main, rhs.Main)
		}
		return DataType{Main: Bool}, nil

	case LessThan, GreatThan:
		if lhs.Main != Int || rhs.Main != Int {
			return DataType{}, fmt.Errorf("comparison operator '%s' requires 'int' operands, got '%s' and '%s'", expression.Type, lhs.Main, rhs.Main)
		}
		return DataType{Main: Bool}, nil

	default:
		return DataType{}, fmt.Errorf("unrecognized binary expression type: %s", expression.Type)
	}
}

// Specialized function to type-check a 'jack.FuncCallExpr'.
func (tc *TypeChecker) HandleFuncCallExpr(expression FuncCallExpr) (DataType, error) {
	for _, arg := range expression.Arguments {
		if _, err := tc.HandleExpression(arg); err != nil {
			return DataType{}, fmt.Errorf("error handling argument expression: %w", err)
		}
	}

	// Instance-to-instance calls (inside the same class) are always well-formed as far as the
	// class definition is concerned, since they're resolved when the class itself was parsed.
	if !expression.IsExtCall {
		className := strings.Split(tc.scopes.GetScope(), ".")[0]

		class, exists := tc.program[className]
		if !exists {
			return DataType{}, fmt.Errorf("class definition not found for '%s'", className)
		}
		routine, exists := class.Subroutines.Get(expression.FuncName)
		if !exists {
			return DataType{}, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, className)
		}
		return routine.Return, nil
	}

	// External call on a variable instance, e.g. 'var.Method(x, y)'.
	if _, variable, err := tc.scopes.ResolveVariable(expression.Var); err == nil {
		if variable.DataType.Main != Object {
			return DataType{}, fmt.Errorf("variable '%s' is not an object", expression.Var)
		}

		class, exists := tc.program[variable.DataType.Subtype]
		if !exists {
			return DataType{}, fmt.Errorf("class definition not found for '%s'", variable.DataType.Subtype)
		}
		routine, exists := class.Subroutines.Get(expression.FuncName)
		if !exists {
			return DataType{}, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, class.Name)
		}
		return routine.Return, nil
	}

	// External call on a class name, e.g. 'Class.function(x, y)'.
	class, exists := tc.program[expression.Var]
	if !exists {
		return DataType{}, fmt.Errorf("class definition not found for '%s'", expression.Var)
	}
	routine, exists := class.Subroutines.Get(expression.FuncName)
	if !exists {
		return DataType{}, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, class.Name)
	}
	if routine.Type == Constructor {
		return DataType{Main: Object, Subtype: class.Name}, nil
	}
	return routine.Return, nil
}

// compatibleTypes reports whether a value of type 'rhs' can be used where 'lhs' is expected.
// 'null' is compatible with any object type, and an object is compatible with another only
// when the two carry the same class name.
func compatibleTypes(lhs, rhs DataType) bool {
	if lhs.Main == rhs.Main && lhs.Subtype == rhs.Subtype {
		return true
	}
	if lhs.Main == Object && rhs.Main == Null {
		return true
	}
	if lhs.Main == Null && rhs.Main == Object {
		return true
	}
	return false
}
