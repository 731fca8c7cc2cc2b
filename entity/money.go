// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package entity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MoneyFields are the monetary fields normalized on invoices, quotes and orders
var MoneyFields = []string{"amount", "net", "vat", "gross", "total", "deposit"}

// NormalizeMoney rewrites monetary fields to two-decimal numbers and derives
// gross from net and vat when gross is missing. Fields that cannot be parsed
// are left as they are and reported in the returned error.
func NormalizeMoney(rec Record, fields ...string) (Record, error) {
	if len(fields) == 0 {
		fields = MoneyFields
	}
	out := rec.Clone()
	var errs []error
	parsed := make(map[string]decimal.Decimal, len(fields))

	for _, field := range fields {
		v, ok := out[field]
		if !ok || v == nil {
			continue
		}
		d, err := toDecimal(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("field %s: %w", field, err))
			continue
		}
		parsed[field] = d
		out[field] = json.Number(d.StringFixed(2))
	}

	if _, hasGross := out["gross"]; !hasGross {
		net, okNet := parsed["net"]
		vat, okVat := parsed["vat"]
		if okNet && okVat {
			out["gross"] = json.Number(net.Add(vat).StringFixed(2))
		}
	}
	return out, errors.Join(errs...)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		return decimal.NewFromString(t)
	case float64:
		return decimal.NewFromFloat(t), nil
	case float32:
		return decimal.NewFromFloat32(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case int32:
		return decimal.NewFromInt32(t), nil
	case decimal.Decimal:
		return t, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported monetary value of type %T", v)
	}
}
