package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"taskboard/client"
	"taskboard/domain"
)

func renderBoard(w io.Writer, cols []client.Column) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, col := range cols {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s (%d)\n", col.Status, len(col.Tasks))
		fmt.Fprintln(tw, strings.Repeat("-", len(col.Status)+len(fmt.Sprint(len(col.Tasks)))+3))
		for _, t := range col.Tasks {
			fmt.Fprintf(tw, "  %s\t%s\t[%s]\t@%s\n", shortID(t.ID), t.Title, t.Priority, t.AssignedUser)
		}
	}
	return tw.Flush()
}

func renderTask(w io.Writer, t domain.Task) {
	fmt.Fprintf(w, "%s  %s  [%s] %s  @%s  v%d\n", t.ID, t.Title, t.Priority, t.Status, t.AssignedUser, t.Version)
}

func shortID(id string) string {
	if client.IsProvisional(id) {
		return "pending"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveID accepts a full id or a unique prefix of one.
func resolveID(reg *client.Registry, ref string) (domain.Task, error) {
	if t, ok := reg.Get(ref); ok {
		return t, nil
	}
	var match []domain.Task
	for _, t := range reg.List() {
		if strings.HasPrefix(t.ID, ref) {
			match = append(match, t)
		}
	}
	switch len(match) {
	case 0:
		return domain.Task{}, fmt.Errorf("no task matches %q", ref)
	case 1:
		return match[0], nil
	default:
		return domain.Task{}, fmt.Errorf("%q matches %d tasks", ref, len(match))
	}
}
