// core/errors.go
package core

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateName = errors.New("duplicate name")
	ErrNotFound      = errors.New("definition not found")
	ErrConstruction  = errors.New("definition construction failed")
	ErrInvalidInput  = errors.New("invalid input")
)

// DuplicateNameError 同一作用域内重复注册
type DuplicateNameError struct {
	Scope string
	Name  string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s: name %q registered more than once", e.Scope, e.Name)
}

func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}

// NotFoundError 查找的名字不在仓库映射中
type NotFoundError struct {
	Repository string
	Category   Category
	Name       string
}

func (e *NotFoundError) Error() string {
	if e.Category == "" {
		return fmt.Sprintf("repository %q not found", e.Repository)
	}
	return fmt.Sprintf("repository %q has no %s named %q", e.Repository, e.Category, e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConstructionError 调用访问器失败，原始错误原样保留
type ConstructionError struct {
	Repository string
	Category   Category
	Name       string
	Err        error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("repository %q: constructing %s %q: %v", e.Repository, e.Category, e.Name, e.Err)
}

func (e *ConstructionError) Is(target error) bool {
	return target == ErrConstruction
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// ValidationError 注册参数不合法
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func IsDuplicateName(err error) bool {
	return errors.Is(err, ErrDuplicateName)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConstruction(err error) bool {
	return errors.Is(err, ErrConstruction)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
