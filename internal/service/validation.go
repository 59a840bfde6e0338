package service

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"task-manager/internal/models"
)

const (
	fieldName        = "nome"
	fieldDescription = "descricao"
	fieldCompleted   = "finalizado"
	fieldDueAt       = "data_limite"
)

// Validation messages returned to clients.
const (
	MsgNameRequired     = "O nome da tarefa é obrigatório."
	MsgNameString       = "O nome da tarefa deve ser um texto."
	MsgNameMax          = "O nome da tarefa não pode ter mais de 255 caracteres."
	MsgDescriptionType  = "A descrição deve ser um texto."
	MsgDescriptionMax   = "A descrição não pode ter mais de 1000 caracteres."
	MsgCompletedBoolean = "O campo finalizado deve ser verdadeiro ou falso."
	MsgDueAtDate        = "A data limite deve ser uma data válida."
	MsgDueAtPast        = "A data limite deve ser igual ou posterior à data atual."
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDate accepts RFC 3339 and the common local date-time forms sent by
// HTML date inputs. Forms without an offset are read in loc.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

type validatorSet struct {
	v   *validator.Validate
	loc *time.Location
}

func newValidator(loc *time.Location) *validatorSet {
	if loc == nil {
		loc = time.UTC
	}
	return &validatorSet{v: validator.New(validator.WithRequiredStructEnabled()), loc: loc}
}

// tag returns the failing validator tag, or "" when value passes.
func (s *validatorSet) tag(value any, rules string) string {
	err := s.v.Var(value, rules)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Tag()
	}
	return rules
}

// apply validates in and writes accepted fields onto task. creating selects
// the create rules: name required, due date not before today.
func (s *validatorSet) apply(in TaskInput, task *models.Task, now time.Time, creating bool) error {
	verr := &ValidationError{}

	switch f := in.Name; {
	case f.Invalid:
		verr.add(fieldName, MsgNameString)
	case f.Null || (creating && !f.Set):
		verr.add(fieldName, MsgNameRequired)
	case f.Set:
		name := strings.TrimSpace(f.Value)
		switch s.tag(name, "required,max=255") {
		case "":
			task.Name = name
		case "required":
			verr.add(fieldName, MsgNameRequired)
		default:
			verr.add(fieldName, MsgNameMax)
		}
	}

	switch f := in.Description; {
	case f.Invalid:
		verr.add(fieldDescription, MsgDescriptionType)
	case f.Null:
		task.Description = nil
	case f.Set:
		if s.tag(f.Value, "max=1000") != "" {
			verr.add(fieldDescription, MsgDescriptionMax)
			break
		}
		if f.Value == "" {
			task.Description = nil
		} else {
			d := f.Value
			task.Description = &d
		}
	}

	switch f := in.Completed; {
	case f.Invalid, f.Null:
		verr.add(fieldCompleted, MsgCompletedBoolean)
	case f.Set:
		task.Completed = f.Value
	}

	switch f := in.DueAt; {
	case f.Invalid:
		verr.add(fieldDueAt, MsgDueAtDate)
	case f.Null || (f.Set && strings.TrimSpace(f.Value) == ""):
		task.DueAt = nil
	case f.Set:
		due, ok := ParseDate(f.Value, s.loc)
		switch {
		case !ok:
			verr.add(fieldDueAt, MsgDueAtDate)
		case creating && due.Before(startOfDay(now.In(s.loc))):
			verr.add(fieldDueAt, MsgDueAtPast)
		default:
			u := due.UTC()
			task.DueAt = &u
		}
	}

	return verr.orNil()
}
