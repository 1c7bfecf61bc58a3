package storage

import "errors"

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicateKey 表示唯一键冲突。
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrInvalidInput 表示参数校验失败。
	ErrInvalidInput = errors.New("storage: invalid input")
)
