package form

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/binding"
	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/widget"
)

// renderKind is the closed set of field renderings.
type renderKind int

const (
	rkError renderKind = iota
	rkText
	rkChoice
	rkPassword
	rkNumber
	rkFloat
	rkDate
	rkBoolean
	rkIP
	rkReference
	rkMatrix
	rkStrings
	rkReferences
	rkVector
)

func kindOf(t *schema.FieldTemplate) renderKind {
	if t.Vector {
		switch {
		case t.Kind == schema.KindString:
			return rkStrings
		case t.Kind == schema.KindInvid && !t.EditInPlace:
			return rkReferences
		default:
			return rkVector
		}
	}
	switch t.Kind {
	case schema.KindString:
		if t.Choices && !t.MultiLine {
			return rkChoice
		}
		return rkText
	case schema.KindPassword:
		return rkPassword
	case schema.KindNumber:
		return rkNumber
	case schema.KindFloat:
		return rkFloat
	case schema.KindDate:
		return rkDate
	case schema.KindBoolean:
		return rkBoolean
	case schema.KindIP:
		return rkIP
	case schema.KindInvid:
		if t.EditInPlace {
			return rkError
		}
		return rkReference
	case schema.KindPermMatrix, schema.KindFieldOptions:
		return rkMatrix
	}
	return rkError
}

// renderer pairs the construction and refresh rules of one rendering so
// both are chosen by the same dispatch.
type renderer struct {
	build  func(c *Container, ctx context.Context, t *schema.FieldTemplate, f remote.Field, info schema.FieldInfo) widget.Widget
	update func(c *Container, ctx context.Context, b *binding.Binding, info schema.FieldInfo) error
}

func rendererFor(t *schema.FieldTemplate) renderer {
	switch kindOf(t) {
	case rkText:
		return renderer{buildText, updateValue}
	case rkChoice:
		return renderer{buildChoice, updateChoice}
	case rkPassword:
		return renderer{buildPassword, updatePassword}
	case rkNumber:
		return renderer{buildNumber, updateValue}
	case rkFloat:
		return renderer{buildFloat, updateValue}
	case rkDate:
		return renderer{buildDate, updateValue}
	case rkBoolean:
		return renderer{buildBoolean, updateValue}
	case rkIP:
		return renderer{buildIP, updateValue}
	case rkReference:
		return renderer{buildReference, updateReference}
	case rkMatrix:
		return renderer{buildMatrix, updateMatrix}
	case rkStrings:
		return renderer{buildStrings, updateStrings}
	case rkReferences:
		return renderer{buildReferences, updateReferences}
	case rkVector:
		return renderer{buildVector, updateVector}
	}
	return renderer{buildError, updateNothing}
}

// displayValue converts a field value to the form its widget shows.
func displayValue(t *schema.FieldTemplate, info schema.FieldInfo) any {
	if !info.Defined {
		return nil
	}
	if kindOf(t) == rkReferences {
		return referenceChoices(info)
	}
	return info.Value
}

// referenceChoices pairs reference values with their labels.
func referenceChoices(info schema.FieldInfo) []remote.Choice {
	invs, _ := info.Value.([]schema.Invid)
	out := make([]remote.Choice, len(invs))
	for i, inv := range invs {
		label := ""
		if i < len(info.Labels) {
			label = info.Labels[i]
		}
		if label == "" {
			label = widget.PlaceholderLabel
		}
		out[i] = remote.Choice{Label: label, Value: inv}
	}
	return out
}

func firstLabel(info schema.FieldInfo) string {
	if len(info.Labels) > 0 {
		return info.Labels[0]
	}
	return ""
}

func buildError(c *Container, _ context.Context, t *schema.FieldTemplate, _ remote.Field, _ schema.FieldInfo) widget.Widget {
	text := fmt.Sprintf("%s: field of kind %s can not be shown", t.Name, t.Kind)
	if t.Kind == schema.KindInvid && t.EditInPlace && !t.Vector {
		text = fmt.Sprintf("%s: edit-in-place is set on a scalar reference field", t.Name)
	}
	glog.Errorf("form: %s %s", c.invid, text)
	return widget.NewErrorLabel(text)
}

func updateNothing(*Container, context.Context, *binding.Binding, schema.FieldInfo) error {
	return nil
}

func updateValue(_ *Container, _ context.Context, b *binding.Binding, info schema.FieldInfo) error {
	b.Widget.SetValue(displayValue(b.Template, info))
	return nil
}

func buildText(c *Container, _ context.Context, t *schema.FieldTemplate, _ remote.Field, info schema.FieldInfo) widget.Widget {
	w := widget.NewText(c, c.fieldEditable(info))
	w.MaxLength = t.MaxLength
	w.OKChars = t.OKChars
	w.BadChars = t.BadChars
	w.MultiLine = t.MultiLine
	w.Width = c.env.fieldWidth()
	if !t.MultiLine && t.MaxLength > 0 {
		w.Width = min(w.Width, t.MaxLength+1)
	}
	w.SetValue(info.Value)
	return w
}

func buildChoice(c *Container, ctx context.Context, t *schema.FieldTemplate, f remote.Field, info schema.FieldInfo) widget.Widget {
	if !c.fieldEditable(info) {
		return buildText(c, ctx, t, f, info)
	}
	w := widget.NewCombo(c, true)
	w.AllowNone = !t.MustChoose
	items, err := c.env.choices(ctx, f)
	if err != nil {
		c.fieldError(fmt.Errorf("%s choices: %w", t.Name, err))
	}
	w.SetChoices(items, info.Value, "")
	w.SetListener(c.listen(w))
	return w
}

func updateChoice(c *Container, ctx context.Context, b *binding.Binding, info schema.FieldInfo) error {
	w, ok := b.Widget.(*widget.Combo)
	if !ok {
		return updateValue(c, ctx, b, info)
	}
	items, err := c.env.choices(ctx, b.Field)
	if err != nil {
		return c.env.report("choices for "+b.Template.Name, err)
	}
	l := w.DetachListener()
	w.SetChoices(items, displayValue(b.Template, info), "")
	w.SetListener(l)
	return nil
}

func buildPassword(c *Container, _ context.Context, t *schema.FieldTemplate, _ remote.Field, info schema.FieldInfo) widget.Widget {
	if !c.fieldEditable(info) {
		return widget.NewMaskedPassword(info.Defined)
	}
	w := widget.NewPassword(c)
	w.MaxLength = t.MaxLength
	w.SetValue(info.Value)
	return w
}

func updatePassword(_ *Container, _ context.Context, b *binding.Binding, info schema.FieldInfo) error {
	w := b.Widget.(*widget.Password)
	if w.Masked() {
		w.SetDefined(info.Defined)
		return nil
	}
	w.SetValue(info.Value)
	return nil
}

func buildNumber(c *Container, _ context.Context, _ *schema.FieldTemplate, _ remote.Field, info schema.FieldInfo) widget.Widget {
	w := widget.NewNumber(c, c.fieldEditable(info))
	w.SetValue(info.Value)
	return w
}

func buildFloat(c *Container, _ context.Context, _ *schema.FieldTemplate, _ remote.Field, info schema.FieldInfo) widget.Widget {
	w := widget.NewFloat(c, c.fieldEditable(info))
	w.SetValue(info.Value)
	return w
}

func buildDate(c *Container, ctx context.Context, t *schema.FieldTemplate, f remote.Field, info schema.FieldInfo) widget.Widget {
	editable := c.fieldEditable(info)
	w := widget.NewDate(c, editable)
	w.SetValue(info.Value)
	if editable {
		lim, err := f.DateLimits(ctx)
		if err != nil {
			c.fieldError(fmt.Errorf("%s date limits: %w", t.Name, err))
		} else {
			w.SetLimits(lim)
		}
	}
	return w
}

func buildBoolean(c *Container, _ context.Context, _ *schema.FieldTemplate, _ remote.Field, info schema.FieldInfo) widget.Widget {
	editable := c.fieldEditable(info)
	w := widget.NewCheckbox(c, editable)
	w.SetValue(info.Value)
	if editable {
		w.SetListener(c.listen(w))
	}
	return w
}

func buildIP(c *Container, _ context.Context, t *schema.FieldTemplate, _ remote.Field, info schema.FieldInfo) widget.Widget {
	w := widget.NewIP(c, c.fieldEditable(info), t.IPv6)
	w.SetValue(info.Value)
	return w
}

func buildReference(c *Container, ctx context.Context, t *schema.FieldTemplate, f remote.Field, info schema.FieldInfo) widget.Widget {
	inv, _ := info.Value.(schema.Invid)
	if !c.fieldEditable(info) {
		w := widget.NewInvidButton(c)
		w.SetTarget(inv, firstLabel(info))
		return w
	}
	w := widget.NewInvidChooser(c, t.MustChoose)
	items, err := c.env.choices(ctx, f)
	if err != nil {
		c.fieldError(fmt.Errorf("%s choices: %w", t.Name, err))
	}
	w.SetChoices(items, displayValue(t, info), firstLabel(info))
	return w
}

func updateReference(c *Container, ctx context.Context, b *binding.Binding, info schema.FieldInfo) error {
	inv, _ := info.Value.(schema.Invid)
	switch w := b.Widget.(type) {
	case *widget.InvidButton:
		w.SetTarget(inv, firstLabel(info))
	case *widget.InvidChooser:
		items, err := c.env.choices(ctx, b.Field)
		if err != nil {
			return c.env.report("choices for "+b.Template.Name, err)
		}
		w.SetChoices(items, displayValue(b.Template, info), firstLabel(info))
	}
	return nil
}

func buildMatrix(c *Container, ctx context.Context, t *schema.FieldTemplate, f remote.Field, info schema.FieldInfo) widget.Widget {
	mf, ok := f.(remote.MatrixField)
	if !ok {
		return widget.NewErrorLabel(fmt.Sprintf("%s: server field does not support matrix editing", t.Name))
	}
	w := widget.NewMatrix(mf, c.fieldEditable(info), t.Kind == schema.KindFieldOptions, func(ctx context.Context, r *remote.Result) (bool, error) {
		ok, _, err := c.env.resolve(ctx, "set "+t.Name, r)
		return ok, err
	})
	if err := w.Load(ctx); err != nil {
		c.fieldError(fmt.Errorf("%s: %w", t.Name, err))
	}
	return w
}

func updateMatrix(c *Container, ctx context.Context, b *binding.Binding, _ schema.FieldInfo) error {
	if w, ok := b.Widget.(*widget.Matrix); ok {
		return c.env.report("reload "+b.Template.Name, w.Load(ctx))
	}
	return nil
}

func buildStrings(c *Container, ctx context.Context, t *schema.FieldTemplate, f remote.Field, info schema.FieldInfo) widget.Widget {
	editable := c.fieldEditable(info)
	w := widget.NewStringSelector(c, editable, false)
	w.SetValue(info.Value)
	if editable && t.Choices {
		loadCandidates(c, ctx, t, f, w)
	}
	return w
}

func updateStrings(c *Container, ctx context.Context, b *binding.Binding, info schema.FieldInfo) error {
	w := b.Widget.(*widget.StringSelector)
	w.SetValue(info.Value)
	if w.Editable() && b.Template.Choices {
		loadCandidates(c, ctx, b.Template, b.Field, w)
	}
	return nil
}

func buildReferences(c *Container, ctx context.Context, t *schema.FieldTemplate, f remote.Field, info schema.FieldInfo) widget.Widget {
	editable := c.fieldEditable(info)
	w := widget.NewStringSelector(c, editable, true)
	w.SetValue(referenceChoices(info))
	if editable {
		loadCandidates(c, ctx, t, f, w)
	}
	return w
}

func updateReferences(c *Container, ctx context.Context, b *binding.Binding, info schema.FieldInfo) error {
	w := b.Widget.(*widget.StringSelector)
	w.SetValue(referenceChoices(info))
	if w.Editable() {
		loadCandidates(c, ctx, b.Template, b.Field, w)
	}
	return nil
}

// loadCandidates installs the candidate list of a selector. A list that
// can not be fetched leaves the selector with free add and remove.
func loadCandidates(c *Container, ctx context.Context, t *schema.FieldTemplate, f remote.Field, w *widget.StringSelector) {
	items, err := c.env.choices(ctx, f)
	if err != nil {
		glog.Warningf("form: %s candidates: %v", t.Name, err)
		w.SetCandidates(nil)
		return
	}
	if items == nil {
		items = []remote.Choice{}
	}
	w.SetCandidates(items)
}

func buildVector(c *Container, ctx context.Context, t *schema.FieldTemplate, f remote.Field, info schema.FieldInfo) widget.Widget {
	v := newVector(c, t, f, c.fieldEditable(info))
	if err := v.populate(ctx, info); err != nil {
		glog.V(2).Infof("form: %s vector %s: %v", c.invid, t.Name, err)
	}
	return v
}

func updateVector(_ *Container, ctx context.Context, b *binding.Binding, info schema.FieldInfo) error {
	return b.Widget.(*Vector).reconcile(ctx, info)
}
