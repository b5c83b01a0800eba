package cloud

import (
	"sort"
	"sync"

	"github.com/go-errors/errors"
)

var (
	ErrDuplicateResource = errors.New("resource already exists")
	ErrUnknownResource   = errors.New("unknown resource")
	ErrResourcesSealed   = errors.New("resources cannot change after registration")
)

type ResourceType string

const TypeFloat ResourceType = "float"

type Operation string

const OperationGet Operation = "GET"

// Resource is one object/instance/resource entry of the resource model.
type Resource struct {
	Path       string       `json:"path"`
	Name       string       `json:"name"`
	Type       ResourceType `json:"type"`
	Observable bool         `json:"observable"`
	Operation  Operation    `json:"operation"`
	Value      string       `json:"value"`
}

// ObserverFunc is called with the new text value of an observable resource.
type ObserverFunc func(path string, value string)

// Resources is the resource model published to the management service. It
// is safe for concurrent use.
type Resources struct {
	mu        sync.RWMutex
	resources map[string]*Resource
	observers []ObserverFunc
	sealed    bool
}

func NewResources() *Resources {
	return &Resources{
		resources: make(map[string]*Resource),
	}
}

// Add registers a resource. An empty value starts out as "0".
func (r *Resources) Add(resource Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return errors.Errorf("%v: %w", resource.Path, ErrResourcesSealed)
	}

	if _, ok := r.resources[resource.Path]; ok {
		return errors.Errorf("%v: %w", resource.Path, ErrDuplicateResource)
	}

	if resource.Value == "" {
		resource.Value = "0"
	}

	r.resources[resource.Path] = &resource

	return nil
}

// SetValue stores the text value of path and notifies the observers if the
// resource is observable.
func (r *Resources) SetValue(path string, value string) error {
	r.mu.Lock()

	resource, ok := r.resources[path]
	if !ok {
		r.mu.Unlock()
		return errors.Errorf("%v: %w", path, ErrUnknownResource)
	}

	resource.Value = value

	var observers []ObserverFunc
	if resource.Observable {
		observers = append(observers, r.observers...)
	}

	r.mu.Unlock()

	for _, observe := range observers {
		observe(path, value)
	}

	return nil
}

func (r *Resources) Value(path string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resource, ok := r.resources[path]
	if !ok {
		return "", errors.Errorf("%v: %w", path, ErrUnknownResource)
	}

	return resource.Value, nil
}

func (r *Resources) Get(path string) (Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resource, ok := r.resources[path]
	if !ok {
		return Resource{}, errors.Errorf("%v: %w", path, ErrUnknownResource)
	}

	return *resource, nil
}

// List returns a copy of all resources sorted by path.
func (r *Resources) List() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Resource, 0, len(r.resources))
	for _, resource := range r.resources {
		list = append(list, *resource)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Path < list[j].Path
	})

	return list
}

func (r *Resources) Observe(observer ObserverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observers = append(r.observers, observer)
}

// Seal freezes the set of resources. Values can still change.
func (r *Resources) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
}
