package state

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// Op is the kind of a single patch entry.
type Op string

const (
	// OpAdd records a path present in the new snapshot but not the old one.
	OpAdd Op = "add"

	// OpRemove records a path present in the old snapshot but not the new one.
	OpRemove Op = "remove"

	// OpReplace records a path whose value changed.
	OpReplace Op = "replace"
)

// Change is one entry of a Patch: the gjson path that changed, how it
// changed, and the new value (absent for removes).
type Change struct {
	Path  string          `json:"path"`
	Op    Op              `json:"op"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Patch is an ordered structural difference between two snapshots. An empty
// patch means no observable change.
type Patch []Change

// String renders the patch as compact JSON, for logs and test failures.
func (p Patch) String() string {
	b, err := json.Marshal(p)
	if err != nil {
		return "<unencodable patch>"
	}
	return string(pretty.Ugly(b))
}

// Diff computes the structural difference between two JSON documents. Both
// documents must come from encoding/json, whose output is deterministic, so
// unchanged subtrees compare equal byte-for-byte.
func Diff(prev, next []byte) Patch {
	var p Patch
	diffValue("", gjson.ParseBytes(prev), gjson.ParseBytes(next), &p)
	return p
}

func diffValue(path string, a, b gjson.Result, out *Patch) {
	if a.Raw == b.Raw {
		return
	}

	switch {
	case a.IsObject() && b.IsObject():
		a.ForEach(func(key, av gjson.Result) bool {
			child := joinPath(path, EscapeKey(key.String()))
			bv := b.Get(EscapeKey(key.String()))
			if !bv.Exists() {
				*out = append(*out, Change{Path: child, Op: OpRemove})
				return true
			}
			diffValue(child, av, bv, out)
			return true
		})
		b.ForEach(func(key, bv gjson.Result) bool {
			if !a.Get(EscapeKey(key.String())).Exists() {
				child := joinPath(path, EscapeKey(key.String()))
				*out = append(*out, Change{Path: child, Op: OpAdd, Value: json.RawMessage(bv.Raw)})
			}
			return true
		})

	case a.IsArray() && b.IsArray():
		av, bv := a.Array(), b.Array()
		n := min(len(av), len(bv))
		for i := 0; i < n; i++ {
			diffValue(joinPath(path, strconv.Itoa(i)), av[i], bv[i], out)
		}
		for i := n; i < len(bv); i++ {
			*out = append(*out, Change{Path: joinPath(path, strconv.Itoa(i)), Op: OpAdd, Value: json.RawMessage(bv[i].Raw)})
		}
		for i := n; i < len(av); i++ {
			*out = append(*out, Change{Path: joinPath(path, strconv.Itoa(i)), Op: OpRemove})
		}

	default:
		op := OpReplace
		if !a.Exists() {
			op = OpAdd
		}
		*out = append(*out, Change{Path: path, Op: op, Value: json.RawMessage(b.Raw)})
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

var keyEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
)

// EscapeKey escapes one object key for use as a gjson/sjson path component.
func EscapeKey(key string) string {
	return keyEscaper.Replace(key)
}
