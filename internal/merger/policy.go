package merger

import (
	"errors"
	"fmt"
	"reflect"

	"trafficrc/internal/models"
)

var (
	ErrMissingPolicy   = errors.New("settings field has no merge policy")
	ErrUnknownField    = errors.New("merge policy names unknown field")
	ErrPolicyKind      = errors.New("merge policy does not fit field kind")
	ErrUnknownStrategy = errors.New("unknown merge strategy")
)

// Strategy - правило слияния одного поля настроек
type Strategy int

const (
	// Max - самое разрешающее числовое значение
	Max Strategy = iota + 1
	// Min - наименьшее значение
	Min
	// MinNonZero - наименьшее ненулевое значение (0 означает "без ограничения"), побеждает самый строгий
	MinNonZero
	// Or - флаг включен, если его включил хотя бы один отправитель
	Or
	// And - флаг включен, только если его включили все отправители
	And
	// LowestIdentity - значение отправителя с наименьшим PeerIdentity
	LowestIdentity
)

func (s Strategy) String() string {
	switch s {
	case Max:
		return "max"
	case Min:
		return "min"
	case MinNonZero:
		return "min_non_zero"
	case Or:
		return "or"
	case And:
		return "and"
	case LowestIdentity:
		return "lowest_identity"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Policy сопоставляет каждому полю SettingsSnapshot правило слияния
type Policy map[string]Strategy

// DefaultPolicy возвращает зафиксированную политику слияния
func DefaultPolicy() Policy {
	return Policy{
		"SenderName":              LowestIdentity,
		"MaxLabelDist":            Max,
		"MaxDrawDist":             Max,
		"MaxAircraft":             MinNonZero,
		"LogLevel":                Min,
		"LabelsEnabled":           Or,
		"LabelCutOffAtVisibility": And,
		"MapEnabled":              Or,
		"MapLabels":               Or,
		"ReplaceDataRefs":         Or,
		"ReplaceTextures":         Or,
		"TCASControl":             Or,
		"LabelColor":              LowestIdentity,
		"DefaultICAO":             LowestIdentity,
	}
}

var settingsType = reflect.TypeOf(models.SettingsSnapshot{})

// Validate проверяет, что политика полна и каждое правило применимо к типу поля
func (p Policy) Validate() error {
	fields := make(map[string]struct{}, settingsType.NumField())
	for i := 0; i < settingsType.NumField(); i++ {
		f := settingsType.Field(i)
		fields[f.Name] = struct{}{}

		s, ok := p[f.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingPolicy, f.Name)
		}
		if err := checkKind(s, f.Type.Kind()); err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
	}
	for name := range p {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
	}
	return nil
}

func checkKind(s Strategy, k reflect.Kind) error {
	switch s {
	case Max, Min, MinNonZero:
		if !isNumeric(k) {
			return fmt.Errorf("%w: %s on %s", ErrPolicyKind, s, k)
		}
	case Or, And:
		if k != reflect.Bool {
			return fmt.Errorf("%w: %s on %s", ErrPolicyKind, s, k)
		}
	case LowestIdentity:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
	return nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
