package feed

import (
	"reflect"
	"slices"
	"time"

	"github.com/trentd187/scorecard-sync/internal/store"
)

// Diff returns the events that turn oldDoc into newDoc.
//
// Top-level keys listed in children are child maps: each entry of them produces its
// own added/changed/removed event. Every other top-level key is a root field and
// produces a changed event when its value differs (with a nil value when it
// disappeared). A nil newDoc produces a single document-removed event.
func Diff(oldDoc, newDoc store.Document, children []string, origin string) []store.Event {
	now := time.Now()
	if newDoc == nil {
		if oldDoc == nil {
			return nil
		}
		return []store.Event{{Kind: store.EventRemoved, Origin: origin, At: now}}
	}

	var events []store.Event
	for _, key := range unionKeys(oldDoc, newDoc) {
		if slices.Contains(children, key) {
			continue
		}
		before, hadBefore := oldDoc[key]
		after, hasAfter := newDoc[key]
		if hadBefore == hasAfter && reflect.DeepEqual(before, after) {
			continue
		}
		events = append(events, store.Event{
			Kind:     store.EventChanged,
			ChildKey: key,
			Value:    after,
			Origin:   origin,
			At:       now,
		})
	}

	for _, parent := range children {
		oldChildren, _ := store.AsMap(oldDoc[parent])
		newChildren, _ := store.AsMap(newDoc[parent])
		for _, key := range unionKeys(oldChildren, newChildren) {
			before, hadBefore := oldChildren[key]
			after, hasAfter := newChildren[key]
			ev := store.Event{Parent: parent, ChildKey: key, Origin: origin, At: now}
			switch {
			case !hadBefore && hasAfter:
				ev.Kind = store.EventAdded
				ev.Value = after
			case hadBefore && !hasAfter:
				ev.Kind = store.EventRemoved
				ev.Value = before
			case !reflect.DeepEqual(before, after):
				ev.Kind = store.EventChanged
				ev.Value = after
			default:
				continue
			}
			events = append(events, ev)
		}
	}
	return events
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
