// core/registry.go
package core

import (
	"fmt"
	"sort"

	"github.com/chhz0/baybikes/types"
)

// Category 仓库内实体的分类，集合是开放的
type Category string

const CategoryPipelines Category = "pipelines"

// Accessor 零参数访问器，调用时才构造实体
type Accessor func() (types.Definition, error)

// PipelineAccessor 把返回流水线的工厂函数包装成访问器
func PipelineAccessor(fn func() (*types.Pipeline, error)) Accessor {
	return func() (types.Definition, error) {
		p, err := fn()
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, nil
		}
		return p, nil
	}
}

// Static 已构造好的流水线直接作为访问器返回
func Static(p *types.Pipeline) Accessor {
	return func() (types.Definition, error) {
		return p, nil
	}
}

// Entry 名字与访问器的组合
type Entry struct {
	Name     string
	Accessor Accessor
}

// Definitions 仓库工厂函数返回的声明：分类 -> 条目列表
type Definitions map[Category][]Entry

// EntryRef 定位仓库中的一个条目
type EntryRef struct {
	Repository string
	Category   Category
	Name       string
}

func (r EntryRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Repository, r.Category, r.Name)
}

// Repository 具名、构造后不可变的查找表
type Repository struct {
	name    string
	entries map[Category]map[string]Accessor
}

// Register 对零参数工厂函数求值并构造仓库，不调用任何访问器
func Register(name string, factory func() Definitions) (*Repository, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "repository name cannot be empty"}
	}
	if factory == nil {
		return nil, &ValidationError{Field: "factory", Message: "repository factory cannot be nil"}
	}

	repo := &Repository{
		name:    name,
		entries: make(map[Category]map[string]Accessor),
	}

	for category, list := range factory() {
		if category == "" {
			return nil, &ValidationError{Field: "category", Message: "category cannot be empty"}
		}
		byName := make(map[string]Accessor, len(list))
		for _, e := range list {
			if e.Name == "" {
				return nil, &ValidationError{Field: "name", Message: fmt.Sprintf("%s entry name cannot be empty", category)}
			}
			if e.Accessor == nil {
				return nil, &ValidationError{Field: "accessor", Message: fmt.Sprintf("%s %q has nil accessor", category, e.Name)}
			}
			if _, exists := byName[e.Name]; exists {
				return nil, &DuplicateNameError{Scope: fmt.Sprintf("repository %q %s", name, category), Name: e.Name}
			}
			byName[e.Name] = e.Accessor
		}
		repo.entries[category] = byName
	}

	return repo, nil
}

// MustRegister 启动期使用，注册失败直接panic
func MustRegister(name string, factory func() Definitions) *Repository {
	repo, err := Register(name, factory)
	if err != nil {
		panic(err)
	}
	return repo
}

func (r *Repository) Name() string {
	return r.name
}

// Categories 返回已声明的分类（排序后）
func (r *Repository) Categories() []Category {
	out := make([]Category, 0, len(r.entries))
	for c := range r.entries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Names 返回某分类下的全部名字（排序后），不触发构造
func (r *Repository) Names(category Category) []string {
	byName := r.entries[category]
	out := make([]string, 0, len(byName))
	for n := range byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Repository) Has(category Category, name string) bool {
	_, ok := r.entries[category][name]
	return ok
}

// Accessor 返回未调用的访问器
func (r *Repository) Accessor(category Category, name string) (Accessor, error) {
	acc, ok := r.entries[category][name]
	if !ok {
		return nil, &NotFoundError{Repository: r.name, Category: category, Name: name}
	}
	return acc, nil
}

// Lookup 调用对应访问器构造实体
func (r *Repository) Lookup(category Category, name string) (types.Definition, error) {
	acc, err := r.Accessor(category, name)
	if err != nil {
		return nil, err
	}
	return construct(EntryRef{Repository: r.name, Category: category, Name: name}, acc)
}

// Pipeline 按名字查找并构造流水线
func (r *Repository) Pipeline(name string) (*types.Pipeline, error) {
	def, err := r.Lookup(CategoryPipelines, name)
	if err != nil {
		return nil, err
	}
	return asPipeline(EntryRef{Repository: r.name, Category: CategoryPipelines, Name: name}, def)
}

// Shape 宿主可见的结构：{"pipelines": {name: accessor}}，返回副本
func (r *Repository) Shape() map[Category]map[string]Accessor {
	out := make(map[Category]map[string]Accessor, len(r.entries))
	for c, byName := range r.entries {
		cp := make(map[string]Accessor, len(byName))
		for n, acc := range byName {
			cp[n] = acc
		}
		out[c] = cp
	}
	return out
}

// construct 调用访问器，错误和panic都转成ConstructionError
func construct(ref EntryRef, acc Accessor) (def types.Definition, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			def = nil
			if e, ok := rec.(error); ok {
				err = newConstructionError(ref, fmt.Errorf("panic: %w", e))
				return
			}
			err = newConstructionError(ref, fmt.Errorf("panic: %v", rec))
		}
	}()

	def, err = acc()
	if err != nil {
		return nil, newConstructionError(ref, err)
	}
	if def == nil {
		return nil, newConstructionError(ref, fmt.Errorf("accessor returned nil %s", ref.Category))
	}
	return def, nil
}

func asPipeline(ref EntryRef, def types.Definition) (*types.Pipeline, error) {
	p, ok := def.(*types.Pipeline)
	if !ok {
		return nil, newConstructionError(ref, fmt.Errorf("accessor returned %T, want *types.Pipeline", def))
	}
	return p, nil
}

func newConstructionError(ref EntryRef, err error) *ConstructionError {
	return &ConstructionError{
		Repository: ref.Repository,
		Category:   ref.Category,
		Name:       ref.Name,
		Err:        err,
	}
}
