package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Filter is a predicate over events. Empty fields match everything; set
// fields are ANDed together and values within one field are ORed.
type Filter struct {
	IDs     []EventID
	Authors []PublicKey
	Kinds   []int
	// Tags maps a tag name (without the leading '#') to accepted values.
	Tags  map[string][]string
	Since int64 // inclusive; zero means unset
	Until int64 // inclusive; zero means unset
	Limit int   // relay side replay bound; zero means relay default
}

// Validate reports malformed filters as ErrInvalidConfiguration.
func (f Filter) Validate() error {
	if f.Limit < 0 {
		return fmt.Errorf("%w: filter limit %d is negative", ErrInvalidConfiguration, f.Limit)
	}
	if f.Since < 0 || f.Until < 0 {
		return fmt.Errorf("%w: filter time bounds must not be negative", ErrInvalidConfiguration)
	}
	if f.Since != 0 && f.Until != 0 && f.Since > f.Until {
		return fmt.Errorf("%w: filter since %d is after until %d", ErrInvalidConfiguration, f.Since, f.Until)
	}
	for _, k := range f.Kinds {
		if k < 0 {
			return fmt.Errorf("%w: filter kind %d is negative", ErrInvalidConfiguration, k)
		}
	}
	for name := range f.Tags {
		if name == "" {
			return fmt.Errorf("%w: filter tag name is empty", ErrInvalidConfiguration)
		}
	}
	return nil
}

// Matches reports whether ev satisfies every constraint in f.
func (f Filter) Matches(ev Event) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, ev.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	if f.Since != 0 && ev.CreatedAt < f.Since {
		return false
	}
	if f.Until != 0 && ev.CreatedAt > f.Until {
		return false
	}
	for name, want := range f.Tags {
		if len(want) == 0 {
			continue
		}
		found := false
		for _, v := range ev.TagValues(name) {
			if slices.Contains(want, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MarshalJSON emits the relay filter object, e.g.
// {"kinds":[4],"#p":["<hex>"],"since":1700000000}.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	names := make([]string, 0, len(f.Tags))
	for name := range f.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m["#"+name] = f.Tags[name]
	}
	if f.Since != 0 {
		m["since"] = f.Since
	}
	if f.Until != 0 {
		m["until"] = f.Until
	}
	if f.Limit != 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts the relay filter object. Unknown keys are ignored.
func (f *Filter) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out Filter
	for key, v := range raw {
		var err error
		switch {
		case key == "ids":
			err = json.Unmarshal(v, &out.IDs)
		case key == "authors":
			err = json.Unmarshal(v, &out.Authors)
		case key == "kinds":
			err = json.Unmarshal(v, &out.Kinds)
		case key == "since":
			err = json.Unmarshal(v, &out.Since)
		case key == "until":
			err = json.Unmarshal(v, &out.Until)
		case key == "limit":
			err = json.Unmarshal(v, &out.Limit)
		case strings.HasPrefix(key, "#") && len(key) > 1:
			var vals []string
			if err = json.Unmarshal(v, &vals); err == nil {
				if out.Tags == nil {
					out.Tags = make(map[string][]string)
				}
				out.Tags[key[1:]] = vals
			}
		}
		if err != nil {
			return fmt.Errorf("filter %q: %w", key, err)
		}
	}
	*f = out
	return nil
}
