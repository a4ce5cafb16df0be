package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lookbusy1344/riscv-vp/iss"
)

// ExpressionEvaluator evaluates expressions in debugger commands
type ExpressionEvaluator struct {
	valueHistory []uint64 // History of evaluated values
	valueNumber  int      // Current value number for $1, $2, etc.
}

// NewExpressionEvaluator creates a new expression evaluator
func NewExpressionEvaluator() *ExpressionEvaluator {
	return &ExpressionEvaluator{
		valueHistory: make([]uint64, 0),
		valueNumber:  0,
	}
}

// regAliases maps the ABI register names to their x-register index, the
// RISC-V analogue of the ARM emulator's pc/sp/lr special-case handling in
// evalRegister below.
var regAliases = map[string]int{
	"zero": 0, "ra": 1, "sp": 2, "gp": 3, "tp": 4,
	"t0": 5, "t1": 6, "t2": 7, "fp": 8, "s0": 8, "s1": 9,
	"a0": 10, "a1": 11, "a2": 12, "a3": 13, "a4": 14, "a5": 15, "a6": 16, "a7": 17,
	"s2": 18, "s3": 19, "s4": 20, "s5": 21, "s6": 22, "s7": 23, "s8": 24, "s9": 25,
	"s10": 26, "s11": 27, "t3": 28, "t4": 29, "t5": 30, "t6": 31,
}

// EvaluateExpression evaluates an expression and returns the result
func (e *ExpressionEvaluator) EvaluateExpression(expr string, core *iss.Core, symbols map[string]uint64) (uint64, error) {
	result, err := e.evaluate(expr, core, symbols)
	if err != nil {
		return 0, err
	}

	e.valueHistory = append(e.valueHistory, result)
	e.valueNumber = len(e.valueHistory)

	return result, nil
}

// Evaluate evaluates an expression and returns a boolean result (for conditions)
func (e *ExpressionEvaluator) Evaluate(expr string, core *iss.Core, symbols map[string]uint64) (bool, error) {
	result, err := e.evaluate(expr, core, symbols)
	if err != nil {
		return false, err
	}

	return result != 0, nil
}

// GetValueNumber returns the current value number
func (e *ExpressionEvaluator) GetValueNumber() int {
	return e.valueNumber
}

// GetValue returns a value from history by number
func (e *ExpressionEvaluator) GetValue(number int) (uint64, error) {
	if number < 1 || number > len(e.valueHistory) {
		return 0, fmt.Errorf("value $%d not in history", number)
	}

	return e.valueHistory[number-1], nil
}

// evaluate is the main evaluation logic
func (e *ExpressionEvaluator) evaluate(expr string, core *iss.Core, symbols map[string]uint64) (uint64, error) {
	expr = strings.TrimSpace(expr)

	if expr == "" {
		return 0, fmt.Errorf("empty expression")
	}

	if val, err := e.trySimpleEval(expr, core, symbols); err == nil {
		return val, nil
	}

	// Handle binary operations (simplified parser).
	// Support: +, -, *, /, &, |, ^, <<, >>
	operators := []string{"<<", ">>", "&", "|", "^", "+", "-", "*", "/"}
	for _, op := range operators {
		patterns := []string{
			" " + op + " ",
			" " + op,
			op + " ",
		}

		for _, pattern := range patterns {
			idx := strings.Index(expr, pattern)
			if idx < 0 {
				continue
			}

			opPos := idx
			if pattern[0] == ' ' {
				opPos++
			}

			left := strings.TrimSpace(expr[:opPos])
			right := strings.TrimSpace(expr[opPos+len(op):])

			if left == "" || right == "" {
				continue
			}

			leftVal, err := e.evaluate(left, core, symbols)
			if err != nil {
				continue
			}

			rightVal, err := e.evaluate(right, core, symbols)
			if err != nil {
				continue
			}

			return e.applyOperator(leftVal, rightVal, op)
		}
	}

	return 0, fmt.Errorf("invalid expression: %s", expr)
}

// trySimpleEval tries to evaluate a simple expression (number, register, memory, symbol)
func (e *ExpressionEvaluator) trySimpleEval(expr string, core *iss.Core, symbols map[string]uint64) (uint64, error) {
	expr = strings.TrimSpace(expr)

	if strings.HasPrefix(expr, "[") && strings.HasSuffix(expr, "]") {
		addrExpr := strings.TrimSpace(expr[1 : len(expr)-1])
		addr, err := e.evaluate(addrExpr, core, symbols)
		if err != nil {
			return 0, err
		}

		value, err := readMemWord(core, addr)
		if err != nil {
			return 0, fmt.Errorf("failed to read memory at 0x%016X: %w", addr, err)
		}

		return value, nil
	}

	if strings.HasPrefix(expr, "*") {
		addrExpr := strings.TrimSpace(expr[1:])
		addr, err := e.evaluate(addrExpr, core, symbols)
		if err != nil {
			return 0, err
		}

		value, err := readMemWord(core, addr)
		if err != nil {
			return 0, fmt.Errorf("failed to read memory at 0x%016X: %w", addr, err)
		}

		return value, nil
	}

	if strings.HasPrefix(expr, "$") {
		numStr := expr[1:]
		num, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid value reference: %s", expr)
		}

		return e.GetValue(num)
	}

	if val, err := e.evalRegister(expr, core); err == nil {
		return val, nil
	}

	if addr, exists := symbols[expr]; exists {
		return addr, nil
	}

	if val, err := e.parseNumber(expr); err == nil {
		return val, nil
	}

	return 0, fmt.Errorf("unknown identifier: %s", expr)
}

// evalRegister evaluates a register reference: "pc", an ABI alias
// ("sp", "ra", "a0", ...), or a raw "x<n>" name.
func (e *ExpressionEvaluator) evalRegister(expr string, core *iss.Core) (uint64, error) {
	expr = strings.ToLower(expr)

	if expr == "pc" {
		return core.Hart.PC, nil
	}

	if reg, ok := regAliases[expr]; ok {
		return core.Hart.Int.Get(uint32(reg)), nil
	}

	if strings.HasPrefix(expr, "x") {
		var regNum int
		if _, err := fmt.Sscanf(expr, "x%d", &regNum); err == nil && regNum >= 0 && regNum <= 31 {
			return core.Hart.Int.Get(uint32(regNum)), nil
		}
	}

	return 0, fmt.Errorf("not a register")
}

// parseNumber parses a numeric literal
func (e *ExpressionEvaluator) parseNumber(expr string) (uint64, error) {
	expr = strings.TrimSpace(expr)

	if strings.HasPrefix(strings.ToLower(expr), "0x") {
		val, err := strconv.ParseUint(expr[2:], 16, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	if strings.HasPrefix(expr, "0b") || strings.HasPrefix(expr, "0B") {
		val, err := strconv.ParseUint(expr[2:], 2, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	if strings.HasPrefix(expr, "0") && len(expr) > 1 {
		val, err := strconv.ParseUint(expr, 8, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	val, err := strconv.ParseInt(expr, 10, 64)
	if err != nil {
		return 0, err
	}

	return uint64(val), nil
}

// applyOperator applies a binary operator to two values
func (e *ExpressionEvaluator) applyOperator(left, right uint64, op string) (uint64, error) {
	switch op {
	case "+":
		return left + right, nil
	case "-":
		return left - right, nil
	case "*":
		return left * right, nil
	case "/":
		if right == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return left / right, nil
	case "&":
		return left & right, nil
	case "|":
		return left | right, nil
	case "^":
		return left ^ right, nil
	case "<<":
		return left << right, nil
	case ">>":
		return left >> right, nil
	default:
		return 0, fmt.Errorf("unknown operator: %s", op)
	}
}

// Reset clears the value history
func (e *ExpressionEvaluator) Reset() {
	e.valueHistory = e.valueHistory[:0]
	e.valueNumber = 0
}
