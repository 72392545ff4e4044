package source

import "fmt"

func conditionMessage(name string, checks int64) string {
	return fmt.Sprintf("condition %q met after %d checks", name, checks)
}

func recoveredError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("predicate panicked: %w", err)
	}
	return fmt.Errorf("predicate panicked: %v", r)
}
