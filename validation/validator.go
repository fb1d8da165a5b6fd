// Package validation 输入字段校验；失败返回 VALIDATION_ERROR，详情中带 field
package validation

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"restaurant/errors"
)

func NewValidationError(message string) error {
	return errors.NewValidationError(message)
}

func invalid(field, format string, args ...any) error {
	return errors.NewErrorf(errors.ErrCodeValidation, field+format, args...).WithContext("field", field)
}

// ValidateRequired 去除空白后不能为空
func ValidateRequired(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field, "不能为空")
	}
	return nil
}

// ValidateStringLength 按字符计数；max 为 0 不限上限
func ValidateStringLength(value, field string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if max <= 0 {
		max = n
	}
	return inRange(field, "长度", n, min, max)
}

func ValidateIntRange(value int, field string, min, max int) error {
	return inRange(field, "", value, min, max)
}

// inRange what 为提示中字段名之后的修饰，例如 "长度"
func inRange[T cmp.Ordered](field, what string, value, min, max T) error {
	switch {
	case value < min:
		return invalid(field, "%s不能小于%v（当前%v）", what, min, value)
	case value > max:
		return invalid(field, "%s不能大于%v（当前%v）", what, max, value)
	}
	return nil
}

func ValidatePositive(value int, field string) error {
	if value <= 0 {
		return invalid(field, "必须为正数（当前%d）", value)
	}
	return nil
}

// ValidateID 自增主键必须为正
func ValidateID(id int64, field string) error {
	if id <= 0 {
		return invalid(field, "必须为正整数（当前%d）", id)
	}
	return nil
}

func ValidateEnum(value, field string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return invalid(field, "取值 %q 无效，可选 %s", value, strings.Join(allowed, "/"))
}

// ValidateMoney 非负，且小数位不超过 maxScale
func ValidateMoney(value decimal.Decimal, field string, maxScale int32) error {
	if value.IsNegative() {
		return invalid(field, "不能为负数（当前%s）", value)
	}
	if !value.Equal(value.Truncate(maxScale)) {
		return invalid(field, "最多保留%d位小数（当前%s）", maxScale, value)
	}
	return nil
}

// First 返回第一个非 nil 的错误，用于串联多个校验
func First(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
