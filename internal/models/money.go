package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const minorUnitsExp = 2

var minorUnitsPerMajor = decimal.New(1, minorUnitsExp)

// ParseMinorUnits переводит сумму в основных единицах ("1500.50") в копейки/кобо.
func ParseMinorUnits(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("некорректная сумма %q: %w", s, err)
	}
	minor := d.Mul(minorUnitsPerMajor)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("сумма %q точнее минимальной единицы", s)
	}
	if !minor.IsPositive() {
		return 0, fmt.Errorf("сумма %q должна быть положительной", s)
	}
	return minor.IntPart(), nil
}

// FormatMinorUnits выполняет обратное преобразование для событий и логов.
func FormatMinorUnits(v int64) string {
	return decimal.New(v, -minorUnitsExp).StringFixed(minorUnitsExp)
}
