package memremote

import (
	_ "embed"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/matthewbaird/ganyclient/internal/schema"
)

//go:embed ganymede.cue
var defaultSchema []byte

// DefaultSchema returns the bases of the built-in development schema.
func DefaultSchema() ([]BaseDef, error) {
	return LoadSchema(defaultSchema)
}

// DefaultSchemaSource returns the CUE source of the development schema.
func DefaultSchemaSource() []byte {
	return defaultSchema
}

type cueField struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Vector      bool     `json:"vector"`
	EditInPlace bool     `json:"editInPlace"`
	Target      int      `json:"target"`
	MaxLength   int      `json:"maxLength"`
	OKChars     string   `json:"okChars"`
	BadChars    string   `json:"badChars"`
	MustChoose  bool     `json:"mustChoose"`
	MultiLine   bool     `json:"multiLine"`
	Comment     string   `json:"comment"`
	Tab         string   `json:"tab"`
	IPv6        bool     `json:"ipv6"`
	ReadOnly    bool     `json:"readOnly"`
	Hidden      bool     `json:"hidden"`
	Choices     []string `json:"choices"`
	ChoiceKey   string   `json:"choiceKey"`
}

type cueBase struct {
	ID            int        `json:"id"`
	Embedded      bool       `json:"embedded"`
	CanInactivate bool       `json:"canInactivate"`
	Label         int        `json:"label"`
	Fields        []cueField `json:"fields"`
}

// LoadSchema compiles CUE source declaring `bases: [name]: {...}` and
// returns the base definitions, each extended with the built-in fields.
func LoadSchema(src []byte) ([]BaseDef, error) {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(src, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate schema: %w", err)
	}

	var raw map[string]cueBase
	if err := val.LookupPath(cue.ParsePath("bases")).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return raw[names[i]].ID < raw[names[j]].ID })

	seen := make(map[int]string, len(raw))
	defs := make([]BaseDef, 0, len(raw))
	for _, name := range names {
		cb := raw[name]
		if other, dup := seen[cb.ID]; dup {
			return nil, fmt.Errorf("bases %q and %q share id %d", other, name, cb.ID)
		}
		seen[cb.ID] = name
		def := BaseDef{
			Base: schema.Base{
				ID:            uint16(cb.ID),
				Name:          name,
				Embedded:      cb.Embedded,
				CanInactivate: cb.CanInactivate,
				LabelField:    uint16(cb.Label),
			},
			Fields: builtinFields(cb.Embedded),
		}
		for _, cf := range cb.Fields {
			kind, err := schema.ParseKind(cf.Kind)
			if err != nil {
				return nil, fmt.Errorf("base %q field %q: %w", name, cf.Name, err)
			}
			def.Fields = append(def.Fields, FieldDef{
				FieldTemplate: schema.FieldTemplate{
					ID:          uint16(cf.ID),
					Name:        cf.Name,
					Kind:        kind,
					Vector:      cf.Vector,
					EditInPlace: cf.EditInPlace,
					TargetBase:  cf.Target,
					MaxLength:   cf.MaxLength,
					OKChars:     cf.OKChars,
					BadChars:    cf.BadChars,
					MustChoose:  cf.MustChoose,
					Choices:     len(cf.Choices) > 0 || cf.ChoiceKey != "",
					MultiLine:   cf.MultiLine,
					Comment:     cf.Comment,
					TabName:     cf.Tab,
					IPv6:        cf.IPv6,
				},
				Choices:   cf.Choices,
				ChoiceKey: cf.ChoiceKey,
				ReadOnly:  cf.ReadOnly,
				Hidden:    cf.Hidden,
			})
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// builtinFields returns the fields every base carries.
func builtinFields(embedded bool) []FieldDef {
	b := func(id uint16, name string, kind schema.FieldKind, readOnly bool) FieldDef {
		return FieldDef{
			FieldTemplate: schema.FieldTemplate{ID: id, Name: name, Kind: kind, BuiltIn: true, TargetBase: schema.AnyTarget},
			ReadOnly:      readOnly,
		}
	}
	var out []FieldDef
	if embedded {
		out = append(out, b(schema.ContainerField, "Containing Object", schema.KindInvid, true))
	} else {
		owner := b(schema.OwnerListField, "Owners", schema.KindInvid, false)
		owner.Vector = true
		owner.TargetBase = int(schema.OwnerBase)
		out = append(out, owner,
			b(schema.ExpirationField, "Expiration Date", schema.KindDate, false),
			b(schema.RemovalField, "Removal Date", schema.KindDate, false),
		)
		notes := b(schema.NotesField, "Notes", schema.KindString, false)
		notes.MultiLine = true
		out = append(out, notes)
	}
	backlinks := b(schema.BackLinksField, "Back Links", schema.KindInvid, true)
	backlinks.Vector = true
	out = append(out,
		b(schema.CreationDateField, "Creation Date", schema.KindDate, true),
		b(schema.CreatorField, "Creator Info", schema.KindString, true),
		b(schema.ModDateField, "Modification Date", schema.KindDate, true),
		b(schema.ModifierField, "Modifier Info", schema.KindString, true),
		backlinks,
	)
	return out
}
