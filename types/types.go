// types/types.go
package types

import (
	"encoding/json"
	"time"
)

// 运行请求状态枚举
type RunStatus int

const (
	StatusQueued RunStatus = iota
	StatusDispatching
	StatusLaunched
	StatusFailed
)

func (s RunStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusDispatching:
		return "dispatching"
	case StatusLaunched:
		return "launched"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseRunStatus 解析状态字符串（HTTP查询参数使用）
func ParseRunStatus(s string) (RunStatus, bool) {
	for _, st := range []RunStatus{StatusQueued, StatusDispatching, StatusLaunched, StatusFailed} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// RunRequest 宿主请求启动某条流水线时产生的记录（原Task迁移至此）
type RunRequest struct {
	ID         string
	Repository string
	Pipeline   string
	Payload    []byte
	Status     RunStatus
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// 序列化运行请求
func (r *RunRequest) Serialize() ([]byte, error) {
	return json.Marshal(r)
}

// 反序列化运行请求
func DeserializeRunRequest(data []byte) (*RunRequest, error) {
	var req RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
