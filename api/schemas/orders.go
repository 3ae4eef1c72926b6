package schemas

// -- Order Schemas --

// OrderSummary is one row of a portal's document listing.
type OrderSummary struct {
	ExternalID       string `json:"external_id" yaml:"external_id"`
	Size             string `json:"size" yaml:"size"`
	ReceptionDate    string `json:"reception_date" yaml:"reception_date"`
	DeliveryLocation string `json:"delivery_location" yaml:"delivery_location"`
	Issuer           string `json:"issuer" yaml:"issuer"`
	Status           string `json:"status" yaml:"status"`
}

// LineItem is one product row of an order's detail view. Numeric fields are kept
// exactly as the portal renders them (locale formatted); parsing them is the
// consumer's job.
type LineItem struct {
	LineNumber      string `json:"line_number" yaml:"line_number"`
	UPCCode         string `json:"upc_code" yaml:"upc_code"`
	ItemCode        string `json:"item_code" yaml:"item_code"`
	ProviderCode    string `json:"provider_code" yaml:"provider_code"`
	Size            string `json:"size" yaml:"size"`
	Description     string `json:"description" yaml:"description"`
	Quantity        string `json:"quantity" yaml:"quantity"`
	UnitPrice       string `json:"unit_price" yaml:"unit_price"`
	UnitsPerPackage string `json:"units_per_package" yaml:"units_per_package"`
	PackageCount    string `json:"package_count" yaml:"package_count"`
	TotalPrice      string `json:"total_price" yaml:"total_price"`
	// Observation comes from the description row that follows the data row.
	Observation string `json:"observation" yaml:"observation"`
}

// OrderDetail is the structured content of a document's detail view.
type OrderDetail struct {
	Issuer              string            `json:"issuer" yaml:"issuer"`
	Receptor            string            `json:"receptor" yaml:"receptor"`
	PurchaseOrderNumber string            `json:"purchase_order_number" yaml:"purchase_order_number"`
	GenerationDate      string            `json:"generation_date" yaml:"generation_date"`
	ShipmentDate        string            `json:"shipment_date" yaml:"shipment_date"`
	CancellationDate    string            `json:"cancellation_date" yaml:"cancellation_date"`
	PaymentConditions   string            `json:"payment_conditions" yaml:"payment_conditions"`
	DeliveryLocation    string            `json:"delivery_location" yaml:"delivery_location"`
	SalesDepartment     string            `json:"sales_department" yaml:"sales_department"`
	OrderType           string            `json:"order_type" yaml:"order_type"`
	Promotion           string            `json:"promotion" yaml:"promotion"`
	ProviderNumber      string            `json:"provider_number" yaml:"provider_number"`
	IssuerInfo          string            `json:"issuer_info" yaml:"issuer_info"`
	VendorInfo          string            `json:"vendor_info" yaml:"vendor_info"`
	Observations        string            `json:"observations" yaml:"observations"`
	LineItems           []LineItem        `json:"line_items" yaml:"line_items"`
	AdditionalInfo      map[string]string `json:"additional_info" yaml:"additional_info"`
}

// HarvestedOrder pairs a listing summary with the detail extracted for it.
type HarvestedOrder struct {
	Summary OrderSummary `json:"summary" yaml:"summary"`
	Detail  OrderDetail  `json:"detail" yaml:"detail"`
}

// ListingFilter selects the documents a listing request returns.
type ListingFilter struct {
	DocumentTypeID string `json:"document_type_id" yaml:"document_type_id"`
	Direction      string `json:"direction" yaml:"direction"`
	DateFrom       string `json:"date_from" yaml:"date_from"`
	DateTo         string `json:"date_to" yaml:"date_to"`
	Status         string `json:"status" yaml:"status"`
	Offset         int    `json:"offset" yaml:"offset"`
}

// RowHandle addresses a listing row in the live page so that its selection
// control can be activated later.
type RowHandle struct {
	// Index is the row's position among the listing's document rows.
	Index int `json:"index" yaml:"index"`
	// DOMIndex is the row's position among all rows matched by RowsSelector,
	// header rows included.
	DOMIndex     int    `json:"dom_index" yaml:"dom_index"`
	RowsSelector string `json:"rows_selector" yaml:"rows_selector"`
	// ControlSelector is a page-unique selector for the row's selection
	// control, when the control carries an identifying attribute.
	ControlSelector string `json:"control_selector,omitempty" yaml:"control_selector,omitempty"`
}

// ListingRow is a parsed listing row together with its handle.
type ListingRow struct {
	Summary OrderSummary `json:"summary" yaml:"summary"`
	Handle  RowHandle    `json:"handle" yaml:"handle"`
}
