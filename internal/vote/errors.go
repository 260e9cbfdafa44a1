package vote

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized 表示调用者没有可识别的身份
	ErrUnauthorized = errors.New("需要登录后才能投票")
	// ErrAlreadyVoted 表示该投票者已经为这个MC投过票
	ErrAlreadyVoted = errors.New("你已经为这个MC投过票了")
	// ErrInvalidInput 表示评分越界或请求参数格式错误
	ErrInvalidInput = errors.New("请求参数无效")
	// ErrNotFound 表示MC或投票记录不存在
	ErrNotFound = errors.New("找不到对应的记录")
	// ErrStorage 表示存储层的暂时性故障，调用方可以重试
	ErrStorage = errors.New("服务暂时不可用，请稍后重试")
)

// StorageError 包装存储层故障，匹配 ErrStorage
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrStorage) 对任意 StorageError 成立
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
