package attributes

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// KeyEvaluator computes a grouping key from a transfer record.
type KeyEvaluator struct {
	program *vm.Program
	source  string
}

// NewKeyEvaluator compiles source, which may return any type; the key is its
// string form.
func NewKeyEvaluator(source string) (*KeyEvaluator, error) {
	program, err := expr.Compile(source, expr.Env(Record{}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile group key %q: %w", source, err)
	}
	return &KeyEvaluator{program: program, source: source}, nil
}

// Group evaluates the expression for r.
func (k *KeyEvaluator) Group(r Record) (string, error) {
	out, err := expr.Run(k.program, r)
	if err != nil {
		return "", fmt.Errorf("failed to evaluate group key %q: %w", k.source, err)
	}
	return fmt.Sprint(out), nil
}

func (k *KeyEvaluator) String() string {
	return k.source
}
