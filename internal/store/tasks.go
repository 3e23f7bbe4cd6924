package store

import (
	"fmt"
)

const tasksCollection = "tasks"

// TaskStore exposes create/get/update/list/remove over the tasks
// collection. It holds no FSM knowledge of its own — spec §4.7 assigns state
// machine enforcement to the Task Manager, which is the sole caller of
// Update's mutator for status transitions.
type TaskStore struct {
	s *Store
}

// Tasks returns a TaskStore bound to the given Store.
func (s *Store) Tasks() *TaskStore { return &TaskStore{s: s} }

func (t *TaskStore) read() (*taskDocument, error) {
	var doc taskDocument
	if err := t.s.readDocument(tasksCollection, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Create inserts a new task at the head of the list (insertion-newest-first)
// and returns the stored copy.
func (t *TaskStore) Create(task *Task) (*Task, error) {
	var created *Task
	err := t.s.withCollection(tasksCollection, func() error {
		doc, err := t.read()
		if err != nil {
			return err
		}
		cp := *task
		doc.Tasks = append([]*Task{&cp}, doc.Tasks...)
		if err := t.s.writeDocument(tasksCollection, doc); err != nil {
			return err
		}
		created = &cp
		return nil
	})
	return created, err
}

// Get returns the task with the given id, or ErrNotFound.
func (t *TaskStore) Get(id string) (*Task, error) {
	var found *Task
	err := t.s.withCollection(tasksCollection, func() error {
		doc, err := t.read()
		if err != nil {
			return err
		}
		for _, task := range doc.Tasks {
			if task.ID == id {
				cp := *task
				found = &cp
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Update applies mutator to the task with the given id and persists the
// result. mutator is called while the collection lock is held so callers
// may safely validate-then-mutate (e.g. FSM transition checks).
func (t *TaskStore) Update(id string, mutator func(*Task) error) (*Task, error) {
	var updated *Task
	err := t.s.withCollection(tasksCollection, func() error {
		doc, err := t.read()
		if err != nil {
			return err
		}
		for _, task := range doc.Tasks {
			if task.ID != id {
				continue
			}
			if err := mutator(task); err != nil {
				return err
			}
			if err := t.s.writeDocument(tasksCollection, doc); err != nil {
				return err
			}
			cp := *task
			updated = &cp
			return nil
		}
		return ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Remove deletes the task with the given id. It is a no-op if the task does
// not exist, matching the cleanup loop's tolerant-of-already-gone usage.
func (t *TaskStore) Remove(id string) error {
	return t.s.withCollection(tasksCollection, func() error {
		doc, err := t.read()
		if err != nil {
			return err
		}
		out := doc.Tasks[:0]
		for _, task := range doc.Tasks {
			if task.ID != id {
				out = append(out, task)
			}
		}
		doc.Tasks = out
		return t.s.writeDocument(tasksCollection, doc)
	})
}

// List returns tasks in insertion-newest-first order, optionally filtered by
// status, capped at limit (0 means unbounded).
func (t *TaskStore) List(status *TaskStatus, limit int) ([]*Task, error) {
	var result []*Task
	err := t.s.withCollection(tasksCollection, func() error {
		doc, err := t.read()
		if err != nil {
			return err
		}
		for _, task := range doc.Tasks {
			if status != nil && task.Status != *status {
				continue
			}
			cp := *task
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return result, nil
}
