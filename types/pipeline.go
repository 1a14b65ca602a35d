// types/pipeline.go
package types

import (
	"errors"
	"fmt"
)

// Definition 仓库中可被宿主发现的实体（目前只有流水线）
type Definition interface {
	DefinitionName() string
}

// Step 流水线中的一个步骤，只记录名字和上游依赖
type Step struct {
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Pipeline 流水线句柄。仓库只转发它，从不检查内部结构
type Pipeline struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Steps       []Step            `json:"steps"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func (p *Pipeline) DefinitionName() string {
	return p.Name
}

// NewPipeline 构造并校验流水线句柄：名字非空，步骤唯一，依赖必须存在
func NewPipeline(name, description string, steps ...Step) (*Pipeline, error) {
	if name == "" {
		return nil, errors.New("pipeline name cannot be empty")
	}

	seen := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		if s.Name == "" {
			return nil, fmt.Errorf("pipeline %q: step name cannot be empty", name)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("pipeline %q: duplicate step %q", name, s.Name)
		}
		seen[s.Name] = struct{}{}
	}

	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := seen[dep]; !ok {
				return nil, fmt.Errorf("pipeline %q: step %q depends on unknown step %q", name, s.Name, dep)
			}
		}
	}

	return &Pipeline{
		Name:        name,
		Description: description,
		Steps:       steps,
	}, nil
}

// WithTags 附加标签，返回同一句柄便于链式调用
func (p *Pipeline) WithTags(tags map[string]string) *Pipeline {
	if p.Tags == nil {
		p.Tags = make(map[string]string, len(tags))
	}
	for k, v := range tags {
		p.Tags[k] = v
	}
	return p
}
