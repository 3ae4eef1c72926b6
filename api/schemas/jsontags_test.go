package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

// TestStructJSONTags uses reflection to verify that the `json` tags on struct fields
// are correct. Snapshots and forwarded results are read by other systems, so
// these names are a contract.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "OrderSummary",
			structRef: schemas.OrderSummary{},
			expectedTags: map[string]string{
				"ExternalID":       "external_id",
				"Size":             "size",
				"ReceptionDate":    "reception_date",
				"DeliveryLocation": "delivery_location",
				"Issuer":           "issuer",
				"Status":           "status",
			},
		},
		{
			name:      "LineItem",
			structRef: schemas.LineItem{},
			expectedTags: map[string]string{
				"LineNumber":      "line_number",
				"UPCCode":         "upc_code",
				"ItemCode":        "item_code",
				"ProviderCode":    "provider_code",
				"UnitsPerPackage": "units_per_package",
				"PackageCount":    "package_count",
				"TotalPrice":      "total_price",
				"Observation":     "observation",
			},
		},
		{
			name:      "OrderDetail",
			structRef: schemas.OrderDetail{},
			expectedTags: map[string]string{
				"PurchaseOrderNumber": "purchase_order_number",
				"GenerationDate":      "generation_date",
				"CancellationDate":    "cancellation_date",
				"LineItems":           "line_items",
				"AdditionalInfo":      "additional_info",
			},
		},
		{
			name:      "HarvestResult",
			structRef: schemas.HarvestResult{},
			expectedTags: map[string]string{
				"RunID":      "run_id",
				"StartedAt":  "started_at",
				"FinishedAt": "finished_at",
				"Orders":     "orders",
				"Failures":   "failures",
			},
		},
		{
			name:      "Credential",
			structRef: schemas.Credential{},
			expectedTags: map[string]string{
				"Username": "username",
				"Password": "-",
			},
		},
		{
			name:      "Cookie",
			structRef: schemas.Cookie{},
			expectedTags: map[string]string{
				"HTTPOnly": "http_only",
				"SameSite": "same_site,omitempty",
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			typ := reflect.TypeOf(tc.structRef)
			for fieldName, expectedTag := range tc.expectedTags {
				field, ok := typ.FieldByName(fieldName)
				if assert.True(t, ok, "field %s not found in struct %s", fieldName, tc.name) {
					assert.Equal(t, expectedTag, field.Tag.Get("json"), "incorrect json tag for field %s", fieldName)
				}
			}
		})
	}
}
