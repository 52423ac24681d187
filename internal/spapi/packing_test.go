package spapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
)

func TestGetPackingGroupID(t *testing.T) {
	var confirmed string
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+apiBase+"/inboundPlans/{plan}/packingOptions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]string{"operationId": "op-pack"})
	})
	mux.HandleFunc("GET "+apiBase+"/inboundPlans/{plan}/packingOptions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"packingOptions": []map[string]any{
			{"packingOptionId": "pk-0", "packingGroups": []string{}},
			{"packingOptionId": "pk-1", "packingGroups": []string{"pg-1", "pg-2"}},
		}})
	})
	mux.HandleFunc("POST "+apiBase+"/inboundPlans/{plan}/packingOptions/{option}/confirmation", func(w http.ResponseWriter, r *http.Request) {
		confirmed = r.PathValue("option")
		writeJSON(w, http.StatusAccepted, map[string]string{"operationId": "op-confirm"})
	})
	mux.HandleFunc("GET "+apiBase+"/operations/{id}", operationsHandler(nil))
	c := newTestClient(t, mux)

	id, err := c.GetPackingGroupID(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "pg-1", id)
	assert.Equal(t, "pk-1", confirmed)
}

func TestGetPackingGroupIDNone(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+apiBase+"/inboundPlans/{plan}/packingOptions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]string{"operationId": "op-pack"})
	})
	mux.HandleFunc("GET "+apiBase+"/inboundPlans/{plan}/packingOptions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"packingOptions": []any{}})
	})
	mux.HandleFunc("GET "+apiBase+"/operations/{id}", operationsHandler(nil))
	c := newTestClient(t, mux)

	_, err := c.GetPackingGroupID(context.Background(), "wf-1")
	var pre *inbound.PreconditionError
	require.ErrorAs(t, err, &pre)
}

func TestGetPackingGroupItems(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+apiBase+"/inboundPlans/{plan}/packingGroups/{group}/items", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pg-1", r.PathValue("group"))
		writeJSON(w, http.StatusOK, map[string]any{"items": []map[string]any{{"msku": "A", "quantity": 12}}})
	})
	c := newTestClient(t, mux)

	items, err := c.GetPackingGroupItems(context.Background(), "wf-1", "pg-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 12, items[0].Quantity)
}

func TestSetPackingInformation(t *testing.T) {
	var body struct {
		PackageGroupings []packageGrouping `json:"packageGroupings"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+apiBase+"/inboundPlans/{plan}/packingInformation", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusAccepted, map[string]string{"operationId": "op-info"})
	})
	mux.HandleFunc("GET "+apiBase+"/operations/{id}", operationsHandler(nil))
	c := newTestClient(t, mux)

	boxes := []Box{{
		Dimensions: Dimensions{Length: 23.62, Width: 15.75, Height: 12.6, UnitOfMeasurement: "IN"},
		Weight:     Weight{Unit: "LB", Value: 64.15},
		Quantity:   2,
	}}
	require.NoError(t, c.SetPackingInformation(context.Background(), "wf-1", "pg-1", boxes))

	require.Len(t, body.PackageGroupings, 1)
	assert.Equal(t, "pg-1", body.PackageGroupings[0].PackingGroupID)
	require.Len(t, body.PackageGroupings[0].Boxes, 1)
	assert.Equal(t, ContentSourceBarcode2D, body.PackageGroupings[0].Boxes[0].ContentInformationSource)
	assert.Equal(t, 2, body.PackageGroupings[0].Boxes[0].Quantity)

	var verr *inbound.ValidationError
	require.ErrorAs(t, c.SetPackingInformation(context.Background(), "wf-1", "pg-1", nil), &verr)
}
