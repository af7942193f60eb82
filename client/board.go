package client

import "taskboard/domain"

// Column is one status lane of the board.
type Column struct {
	Status domain.Status
	Tasks  []domain.Task
}

// Project groups tasks into the three status columns, in column order, keeping
// encounter order within each column.
func Project(tasks []domain.Task) []Column {
	statuses := domain.Statuses()
	cols := make([]Column, len(statuses))
	index := make(map[domain.Status]int, len(statuses))
	for i, s := range statuses {
		cols[i] = Column{Status: s}
		index[s] = i
	}
	for _, t := range tasks {
		i, ok := index[t.Status]
		if !ok {
			continue
		}
		cols[i].Tasks = append(cols[i].Tasks, t)
	}
	return cols
}

// Columns projects the registry's current snapshot.
func (r *Registry) Columns() []Column {
	return Project(r.List())
}
