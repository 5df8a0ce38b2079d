// Package model содержит базовые модели и JSON-типы колонок.
//
// Группа: BASE - Базовые компоненты
// Содержит: StringList, LangURLMap, LangFlagMap
package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// StringList представляет упорядоченный список строк в jsonb колонке.
// При чтении принимает массив, JSON-строку с массивом внутри и текст с переводами строк.
type StringList []string

// Value реализует driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// Scan реализует sql.Scanner
func (l *StringList) Scan(src any) error {
	raw, err := rawBytes(src)
	if err != nil {
		return err
	}
	return l.decode(raw)
}

// UnmarshalJSON принимает массив строк или строку
func (l *StringList) UnmarshalJSON(data []byte) error {
	return l.decode(data)
}

func (l *StringList) decode(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*l = StringList{}
		return nil
	}

	switch raw[0] {
	case '[':
		var items []any
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("decode string list: %w", err)
		}
		out := make(StringList, 0, len(items))
		for _, item := range items {
			switch v := item.(type) {
			case string:
				out = append(out, v)
			case nil:
			default:
				out = append(out, fmt.Sprint(v))
			}
		}
		*l = out
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("decode string list: %w", err)
		}
		return l.decode([]byte(s))
	default:
		// старые строки хранились как текст, по ответу на строку
		var out StringList
		for _, line := range strings.Split(string(raw), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		if out == nil {
			out = StringList{}
		}
		*l = out
		return nil
	}
}

// LangURLMap представляет отображение язык -> URL
type LangURLMap map[string]string

// Value реализует driver.Valuer
func (m LangURLMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(m))
}

// Scan реализует sql.Scanner
func (m *LangURLMap) Scan(src any) error {
	raw, err := rawBytes(src)
	if err != nil {
		return err
	}
	raw = bytes.TrimSpace(raw)
	out := LangURLMap{}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*m = out
		return nil
	}
	if raw[0] == '[' {
		// пустой массив встречается вместо пустого объекта
		*m = out
		return nil
	}
	if err := json.Unmarshal(raw, (*map[string]string)(&out)); err != nil {
		return fmt.Errorf("decode language url map: %w", err)
	}
	*m = out
	return nil
}

// LangFlagMap представляет отображение язык -> флаг
type LangFlagMap map[string]bool

// Value реализует driver.Valuer
func (m LangFlagMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]bool(m))
}

// Scan реализует sql.Scanner
func (m *LangFlagMap) Scan(src any) error {
	raw, err := rawBytes(src)
	if err != nil {
		return err
	}
	raw = bytes.TrimSpace(raw)
	out := LangFlagMap{}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || raw[0] == '[' {
		*m = out
		return nil
	}
	if err := json.Unmarshal(raw, (*map[string]bool)(&out)); err != nil {
		return fmt.Errorf("decode language flag map: %w", err)
	}
	*m = out
	return nil
}

func rawBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported json column type %T", src)
	}
}
