// core/workspace.go
package core

import (
	"sort"

	"github.com/chhz0/baybikes/types"
)

// Wrapper 查找时包装访问器（日志、指标等）
type Wrapper func(ref EntryRef, next Accessor) Accessor

// Workspace 宿主加载的仓库集合，构造后只读
type Workspace struct {
	repos map[string]*Repository
	wrap  Wrapper
}

// NewWorkspace 仓库名在进程内必须唯一
func NewWorkspace(repos ...*Repository) (*Workspace, error) {
	ws := &Workspace{repos: make(map[string]*Repository, len(repos))}
	for _, r := range repos {
		if r == nil {
			return nil, &ValidationError{Field: "repository", Message: "repository cannot be nil"}
		}
		if _, exists := ws.repos[r.Name()]; exists {
			return nil, &DuplicateNameError{Scope: "workspace", Name: r.Name()}
		}
		ws.repos[r.Name()] = r
	}
	return ws, nil
}

// WithMiddleware 返回带包装器的新工作区，原工作区不变
func (w *Workspace) WithMiddleware(wrap Wrapper) *Workspace {
	return &Workspace{repos: w.repos, wrap: wrap}
}

func (w *Workspace) Repository(name string) (*Repository, error) {
	r, ok := w.repos[name]
	if !ok {
		return nil, &NotFoundError{Repository: name}
	}
	return r, nil
}

// Repositories 返回仓库名（排序后）
func (w *Workspace) Repositories() []string {
	out := make([]string, 0, len(w.repos))
	for n := range w.repos {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Lookup 在指定仓库中构造实体
func (w *Workspace) Lookup(repo string, category Category, name string) (types.Definition, error) {
	r, err := w.Repository(repo)
	if err != nil {
		return nil, err
	}
	acc, err := r.Accessor(category, name)
	if err != nil {
		return nil, err
	}

	ref := EntryRef{Repository: repo, Category: category, Name: name}
	if w.wrap != nil {
		acc = w.wrap(ref, acc)
	}
	return construct(ref, acc)
}

// Pipeline 在指定仓库中构造流水线
func (w *Workspace) Pipeline(repo, name string) (*types.Pipeline, error) {
	def, err := w.Lookup(repo, CategoryPipelines, name)
	if err != nil {
		return nil, err
	}
	return asPipeline(EntryRef{Repository: repo, Category: CategoryPipelines, Name: name}, def)
}
