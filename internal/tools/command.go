package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pearls-dev/pearls/internal/types"
)

// Tool names.
const (
	ToolList             = "tasks.list"
	ToolClaimNext        = "tasks.claim_next"
	ToolAdd              = "tasks.add"
	ToolUpdateMetadata   = "tasks.update_metadata"
	ToolUpdateDependency = "tasks.update_dependency"
)

// Command is a tool call whose arguments have been checked and converted.
type Command interface {
	Tool() string
}

// ListCommand filters tasks by effective state.
type ListCommand struct {
	States []types.State
}

// ClaimNextCommand takes no arguments.
type ClaimNextCommand struct{}

// AddCommand creates a task and optionally links it.
type AddCommand struct {
	Title       string
	Description string
	Priority    *int64
	ParentOf    *int64
	ChildOf     *int64
}

// UpdateMetadataCommand edits the supplied fields of one task.
type UpdateMetadataCommand struct {
	ID     int64
	Update types.MetadataUpdate
}

// UpdateDependencyCommand edits the edges around one task.
type UpdateDependencyCommand struct {
	ID     int64
	Update types.DependencyUpdate
}

func (ListCommand) Tool() string             { return ToolList }
func (ClaimNextCommand) Tool() string        { return ToolClaimNext }
func (AddCommand) Tool() string              { return ToolAdd }
func (UpdateMetadataCommand) Tool() string   { return ToolUpdateMetadata }
func (UpdateDependencyCommand) Tool() string { return ToolUpdateDependency }

// allowedFields lists the argument names each tool accepts.
var allowedFields = map[string][]string{
	ToolList:             {"state"},
	ToolClaimNext:        {},
	ToolAdd:              {"title", "description", "priority", "parent_of", "child_of"},
	ToolUpdateMetadata:   {"id", "title", "desc", "priority", "state"},
	ToolUpdateDependency: {"id", "add_parent", "remove_parent", "add_child", "remove_child"},
}

// ParseCommand converts raw tool arguments into a typed command.
//
// Unknown tools, unknown argument names, missing required arguments, wrong
// JSON types, non-integral numbers and unknown state names are rejected with
// an error wrapping types.ErrInvalidArgument. Nothing is executed.
func ParseCommand(name string, args map[string]any) (Command, error) {
	allowed, ok := allowedFields[name]
	if !ok {
		return nil, invalidf("unknown tool: %s", name)
	}
	if err := checkFields(args, allowed); err != nil {
		return nil, err
	}

	a := argReader(args)
	switch name {
	case ToolList:
		states, err := a.states("state")
		if err != nil {
			return nil, err
		}
		if states == nil {
			states = types.DefaultListStates()
		}
		return ListCommand{States: states}, nil

	case ToolClaimNext:
		return ClaimNextCommand{}, nil

	case ToolAdd:
		var cmd AddCommand
		var err error
		if cmd.Title, err = a.requiredString("title"); err != nil {
			return nil, err
		}
		if cmd.Description, err = a.requiredString("description"); err != nil {
			return nil, err
		}
		if cmd.Priority, err = a.optionalInt("priority"); err != nil {
			return nil, err
		}
		if cmd.ParentOf, err = a.optionalInt("parent_of"); err != nil {
			return nil, err
		}
		if cmd.ChildOf, err = a.optionalInt("child_of"); err != nil {
			return nil, err
		}
		return cmd, nil

	case ToolUpdateMetadata:
		var cmd UpdateMetadataCommand
		var err error
		if cmd.ID, err = a.requiredInt("id"); err != nil {
			return nil, err
		}
		if cmd.Update.Title, err = a.optionalString("title"); err != nil {
			return nil, err
		}
		if cmd.Update.Description, err = a.optionalString("desc"); err != nil {
			return nil, err
		}
		if cmd.Update.Priority, err = a.optionalInt("priority"); err != nil {
			return nil, err
		}
		state, err := a.optionalString("state")
		if err != nil {
			return nil, err
		}
		if state != nil {
			s, err := types.ParseState(*state)
			if err != nil {
				return nil, err
			}
			cmd.Update.State = &s
		}
		return cmd, nil

	case ToolUpdateDependency:
		var cmd UpdateDependencyCommand
		var err error
		if cmd.ID, err = a.requiredInt("id"); err != nil {
			return nil, err
		}
		if cmd.Update.AddParents, err = a.intList("add_parent"); err != nil {
			return nil, err
		}
		if cmd.Update.RemoveParents, err = a.intList("remove_parent"); err != nil {
			return nil, err
		}
		if cmd.Update.AddChildren, err = a.intList("add_child"); err != nil {
			return nil, err
		}
		if cmd.Update.RemoveChildren, err = a.intList("remove_child"); err != nil {
			return nil, err
		}
		return cmd, nil
	}

	return nil, invalidf("unknown tool: %s", name)
}

func checkFields(args map[string]any, allowed []string) error {
	var unknown []string
	for key := range args {
		found := false
		for _, a := range allowed {
			if key == a {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return invalidf("unknown field(s): %s", strings.Join(unknown, ", "))
}

type argReader map[string]any

func (a argReader) requiredString(key string) (string, error) {
	s, err := a.optionalString(key)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", invalidf("missing %s", key)
	}
	return *s, nil
}

func (a argReader) optionalString(key string) (*string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, invalidf("%s must be a string", key)
	}
	return &s, nil
}

func (a argReader) requiredInt(key string) (int64, error) {
	n, err := a.optionalInt(key)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, invalidf("missing %s", key)
	}
	return *n, nil
}

func (a argReader) optionalInt(key string) (*int64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := toInt(v)
	if err != nil {
		return nil, invalidf("%s %s", key, err)
	}
	return &n, nil
}

func (a argReader) intList(key string) ([]int64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []int64:
		return list, nil
	case []any:
		out := make([]int64, 0, len(list))
		for i, item := range list {
			n, err := toInt(item)
			if err != nil {
				return nil, invalidf("%s[%d] %s", key, i, err)
			}
			out = append(out, n)
		}
		return out, nil
	}
	return nil, invalidf("%s must be an array of integers", key)
}

func (a argReader) states(key string) ([]types.State, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	var names []string
	switch list := v.(type) {
	case []string:
		names = list
	case []any:
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, invalidf("%s values must be strings", key)
			}
			names = append(names, s)
		}
	default:
		return nil, invalidf("%s must be an array of strings", key)
	}

	states := make([]types.State, 0, len(names))
	for _, name := range names {
		s, err := types.ParseState(name)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, nil
}

// toInt accepts the numeric forms a decoded JSON argument can take and
// rejects anything that is not a whole number.
func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n >= math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("must be an integer (got %v)", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("must be an integer (got %s)", n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("must be an integer (got %T)", v)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidArgument, fmt.Sprintf(format, args...))
}
