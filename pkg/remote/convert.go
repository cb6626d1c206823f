package remote

import (
	"context"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/docketworks/docketsync/pkg/docket"
	"github.com/docketworks/docketsync/pkg/logger"
)

// customFieldValues extracts a name -> display value map from the raw
// item document. Custom-field values are heterogeneous (strings,
// numbers, label arrays, user objects), so they are read with gjson
// rather than a fixed schema.
func customFieldValues(raw []byte) map[string]string {
	fields := gjson.GetBytes(raw, "customFields")
	if !fields.Exists() {
		return nil
	}

	out := make(map[string]string)
	fields.ForEach(func(_, field gjson.Result) bool {
		name := field.Get("name").String()
		if name == "" {
			return true
		}
		value := field.Get("value")
		switch {
		case !value.Exists() || value.Type == gjson.Null:
			return true
		case value.IsArray():
			var parts []string
			value.ForEach(func(_, v gjson.Result) bool {
				if n := v.Get("name"); n.Exists() {
					parts = append(parts, n.String())
				} else {
					parts = append(parts, v.String())
				}
				return true
			})
			if len(parts) > 0 {
				out[name] = strings.Join(parts, ", ")
			}
		case value.IsObject():
			if n := value.Get("name"); n.Exists() {
				out[name] = n.String()
			} else {
				out[name] = value.Raw
			}
		default:
			out[name] = value.String()
		}
		return true
	})

	if len(out) == 0 {
		return nil
	}
	return out
}

// metadataFor builds the project metadata for a record. The collection
// may be unknown on the search path; the id from the item is kept
// regardless.
func metadataFor(item *Item, col *Collection) *docket.ProjectMetadata {
	meta := &docket.ProjectMetadata{
		CollectionID: item.CollectionID,
		CustomFields: customFieldValues(item.Raw),
	}
	if col != nil {
		meta.Name = col.Name
		meta.CreatedBy = col.Creator.Username
		meta.Owner = col.Owner.Username
		meta.Notes = col.Notes
		meta.Color = col.Color
		meta.DueDate = col.DueDate
		meta.TeamName = col.TeamName
	}
	if meta.CollectionID == "" && col != nil {
		meta.CollectionID = col.ID
	}
	return meta
}

// recordFromItem converts a numbered item into a docket record. ok is
// false when the item name carries no parseable docket number.
func recordFromItem(item *Item, col *Collection) (*docket.Record, bool) {
	number, jobName, ok := docket.SplitDisplayName(item.Name)
	if !ok {
		return nil, false
	}

	rec := &docket.Record{
		Number:      number,
		JobName:     jobName,
		DisplayName: item.Name,
		CreatedAt:   parseMillis(item.DateCreated),
		UpdatedAt:   parseMillis(item.DateUpdated),
		Completed:   item.Completed(),
		Project:     metadataFor(item, col),
	}
	if due := parseMillis(item.DueDate); !due.IsZero() {
		rec.DueDate = &due
	}
	return rec, true
}

func subtaskFromItem(item *Item) docket.Subtask {
	return docket.Subtask{
		Name:      item.Name,
		UpdatedAt: parseMillis(item.DateUpdated),
		Category:  item.Status.Status,
	}
}

// assembleRecords merges fetched items into the final record set. Items
// without a parseable docket number are held as orphans and attached as
// subtasks to their parent when the parent carries a number; parents
// outside the fetched set are resolved with a best-effort single-item
// fetch. Returns the records and the ids of collections that actually
// contained dockets.
func assembleRecords(
	ctx context.Context,
	client *Client,
	items []Item,
	collections map[string]*Collection,
) ([]docket.Record, []string) {
	byID := make(map[string]*Item, len(items))
	for i := range items {
		byID[items[i].ID] = &items[i]
	}

	records := make(map[string]*docket.Record)
	itemIdentity := make(map[string]string)
	docketCollections := make(map[string]bool)

	addRecord := func(item *Item) {
		rec, ok := recordFromItem(item, collections[item.CollectionID])
		if !ok {
			return
		}
		key := rec.IdentityKey()
		itemIdentity[item.ID] = key
		if item.CollectionID != "" {
			docketCollections[item.CollectionID] = true
		}
		existing, dup := records[key]
		if !dup {
			records[key] = rec
			return
		}
		// Same docket surfaced from more than one item: keep the most
		// recently updated view, merge custom fields.
		if rec.UpdatedAt.After(existing.UpdatedAt) {
			rec.Subtasks = existing.Subtasks
			if existing.Project != nil && rec.Project != nil {
				for k, v := range existing.Project.CustomFields {
					if _, set := rec.Project.CustomFields[k]; !set {
						if rec.Project.CustomFields == nil {
							rec.Project.CustomFields = make(map[string]string)
						}
						rec.Project.CustomFields[k] = v
					}
				}
			}
			records[key] = rec
		}
	}

	for i := range items {
		addRecord(&items[i])
	}

	// Orphan pass: unnumbered items become subtasks of their numbered
	// parents.
	for i := range items {
		item := &items[i]
		if _, numbered := itemIdentity[item.ID]; numbered || item.ParentID == "" {
			continue
		}
		parent, ok := byID[item.ParentID]
		if !ok && client != nil {
			fetched, err := client.GetItem(ctx, item.ParentID)
			if err != nil {
				logger.Debugf("Could not resolve parent %s of orphan item %s: %v", item.ParentID, item.ID, err)
				continue
			}
			parent = fetched
			byID[parent.ID] = parent
			addRecord(parent)
		}
		if parent == nil {
			continue
		}
		key, numbered := itemIdentity[parent.ID]
		if !numbered {
			continue
		}
		rec := records[key]
		rec.Subtasks = append(rec.Subtasks, subtaskFromItem(item))
	}

	out := make([]docket.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].IdentityKey() < out[j].IdentityKey()
	})

	ids := make([]string, 0, len(docketCollections))
	for id := range docketCollections {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return out, ids
}
