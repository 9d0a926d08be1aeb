// Package stream provides a DynamoDB Streams handler that keeps mirrors in
// sync with primary writes.
//
// Writes that reach the table without going through the facade's mirror
// operations (bulk imports, other services, manual fixes) still produce
// stream records. The handler replays those records against the declared
// mirror topology, so every registered collection's mirrors converge on
// the primary.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/prism/store"
)

// Managed attributes of the dynamo driver's table layout, stripped when a
// stream image is converted back into a document.
var managedAttrs = map[string]bool{
	"pk":  true,
	"sk":  true,
	"id":  true,
	"rev": true,
}

// Handler processes DynamoDB stream events to propagate primary document
// writes to their registered mirror paths.
type Handler struct {
	store  store.DataStore
	rules  *store.MirrorRules
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s store.DataStore, rules *store.MirrorRules, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		rules:  rules,
		logger: logger,
	}
}

// HandleMirrorSync processes DynamoDB stream events, mirroring inserts and
// modifications of registered collections and deleting mirrors of removed
// documents. This function is designed to be used as an AWS Lambda handler:
// a returned error makes Lambda retry the batch.
func (h *Handler) HandleMirrorSync(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"eventName", record.EventName,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord handles a single stream record. Records of unregistered
// collections (including the mirror collections' own writes) are skipped.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	collection, id, ok := recordLocation(record)
	if !ok {
		return nil
	}
	if !h.rules.HasRule(collection) {
		return nil
	}
	primary := collection + "/" + id
	mirrors := h.rules.PathsFor(collection, id)

	switch record.EventName {
	case "INSERT", "MODIFY":
		doc := imageToDocument(record.Change.NewImage)
		doc[store.IDField] = id

		h.logger.Info("syncing mirrors",
			"primary", primary,
			"mirrors", len(mirrors),
		)
		if err := h.store.Mirror(ctx, primary, mirrors, doc); err != nil {
			return fmt.Errorf("mirror %s: %w", primary, err)
		}
	case "REMOVE":
		h.logger.Info("removing mirrors",
			"primary", primary,
			"mirrors", len(mirrors),
		)
		var failed []string
		for _, m := range mirrors {
			if err := h.store.Delete(ctx, m); err != nil {
				h.logger.Warn("failed to delete mirror",
					"path", m,
					"error", err,
				)
				failed = append(failed, m)
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("delete mirrors of %s: %d of %d failed", primary, len(failed), len(mirrors))
		}
	}
	return nil
}

// recordLocation recovers the collection path and document id from a
// record's table keys, stripping the shard suffix from the partition key.
func recordLocation(record events.DynamoDBEventRecord) (collection, id string, ok bool) {
	pk := getStringAttr(record.Change.Keys, "pk")
	id = getStringAttr(record.Change.Keys, "sk")
	if pk == "" || id == "" {
		return "", "", false
	}
	i := strings.LastIndexByte(pk, '#')
	if i <= 0 {
		return "", "", false
	}
	return pk[:i], id, true
}

// imageToDocument converts a stream image into a document, dropping the
// table's managed attributes.
func imageToDocument(image map[string]events.DynamoDBAttributeValue) store.Document {
	doc := make(store.Document, len(image))
	for k, v := range image {
		if managedAttrs[k] {
			continue
		}
		doc[k] = attrValue(v)
	}
	return doc
}

// attrValue converts a single stream attribute to its Go value. Numbers
// decode to int64 when integral, float64 otherwise.
func attrValue(v events.DynamoDBAttributeValue) any {
	switch v.DataType() {
	case events.DataTypeString:
		return v.String()
	case events.DataTypeNumber:
		if n, err := strconv.ParseInt(v.Number(), 10, 64); err == nil {
			return n
		}
		f, _ := strconv.ParseFloat(v.Number(), 64)
		return f
	case events.DataTypeBoolean:
		return v.Boolean()
	case events.DataTypeNull:
		return nil
	case events.DataTypeBinary:
		return v.Binary()
	case events.DataTypeList:
		list := make([]any, len(v.List()))
		for i, item := range v.List() {
			list[i] = attrValue(item)
		}
		return list
	case events.DataTypeMap:
		m := make(map[string]any, len(v.Map()))
		for k, item := range v.Map() {
			m[k] = attrValue(item)
		}
		return m
	case events.DataTypeStringSet:
		set := make([]any, len(v.StringSet()))
		for i, s := range v.StringSet() {
			set[i] = s
		}
		return set
	case events.DataTypeNumberSet:
		set := make([]any, len(v.NumberSet()))
		for i, s := range v.NumberSet() {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				set[i] = n
				continue
			}
			f, _ := strconv.ParseFloat(s, 64)
			set[i] = f
		}
		return set
	}
	return nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}
