package definition

// Unreachable returns the names of states that no path from the start state
// can reach, in declaration order. Unreachable states are a registration
// warning, never an error.
func (d *Definition) Unreachable() []string {
	seen := map[string]bool{}
	stack := []string{d.StartAt}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if st, ok := d.States[name]; ok {
			stack = append(stack, st.Targets()...)
		}
	}
	var out []string
	for _, name := range d.Order {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}
