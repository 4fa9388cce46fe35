package models

import "errors"

// ErrSetFailed 表示快取拒絕寫入
var ErrSetFailed = errors.New("failed to set cache entry")
