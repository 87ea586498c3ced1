// Package merger сводит настройки всех живых отправителей в одну действующую конфигурацию.
package merger

import (
	"reflect"
	"slices"

	"trafficrc/internal/models"
)

// Merger - чистая функция над набором живых отправителей. Политика проверяется при создании.
type Merger struct {
	strategies []Strategy // по индексу поля SettingsSnapshot
}

// New создает Merger, отклоняя неполную или неприменимую политику
func New(p Policy) (*Merger, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m := &Merger{strategies: make([]Strategy, settingsType.NumField())}
	for i := range m.strategies {
		m.strategies[i] = p[settingsType.Field(i).Name]
	}
	return m, nil
}

// MustNew паникует на дыре в политике: это ошибка программы, а не состояние времени выполнения
func MustNew(p Policy) *Merger {
	m, err := New(p)
	if err != nil {
		panic("merger: " + err.Error())
	}
	return m
}

var defaultMerger = MustNew(DefaultPolicy())

// Merge сводит настройки по DefaultPolicy
func Merge(peers map[models.PeerIdentity]models.SettingsSnapshot) models.EffectiveSettings {
	return defaultMerger.Merge(peers)
}

// Merge результат зависит только от набора входных значений, но не от порядка их поступления.
// Пустой набор дает настройки по умолчанию.
func (m *Merger) Merge(peers map[models.PeerIdentity]models.SettingsSnapshot) models.EffectiveSettings {
	if len(peers) == 0 {
		return models.EffectiveSettings{SettingsSnapshot: models.DefaultSettings()}
	}

	ids := make([]models.PeerIdentity, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, models.PeerIdentity.Compare)

	values := make([]reflect.Value, len(ids))
	for i, id := range ids {
		values[i] = reflect.ValueOf(peers[id])
	}

	var out models.SettingsSnapshot
	rv := reflect.ValueOf(&out).Elem()
	for i, s := range m.strategies {
		rv.Field(i).Set(mergeField(s, values, i))
	}
	return models.EffectiveSettings{SettingsSnapshot: out, PeerCount: len(peers)}
}

func mergeField(s Strategy, values []reflect.Value, field int) reflect.Value {
	first := values[0].Field(field)
	switch s {
	case Max, Min:
		best := first
		for _, v := range values[1:] {
			f := v.Field(field)
			if (s == Max && less(best, f)) || (s == Min && less(f, best)) {
				best = f
			}
		}
		return best
	case MinNonZero:
		best := reflect.Zero(first.Type())
		for _, v := range values {
			f := v.Field(field)
			if f.IsZero() {
				continue
			}
			if best.IsZero() || less(f, best) {
				best = f
			}
		}
		return best
	case Or:
		for _, v := range values {
			if v.Field(field).Bool() {
				return reflect.ValueOf(true).Convert(first.Type())
			}
		}
		return reflect.ValueOf(false).Convert(first.Type())
	case And:
		for _, v := range values {
			if !v.Field(field).Bool() {
				return reflect.ValueOf(false).Convert(first.Type())
			}
		}
		return reflect.ValueOf(true).Convert(first.Type())
	default: // LowestIdentity
		return first
	}
}

func less(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Float32, reflect.Float64:
		return a.Float() < b.Float()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return a.Uint() < b.Uint()
	default:
		return a.Int() < b.Int()
	}
}
