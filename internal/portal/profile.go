// internal/portal/profile.go
package portal

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/config"
	"github.com/xkilldash9x/harvester-cli/internal/dom"
)

// Profile describes the page layout of one vendor portal: where its views
// live and how their elements are addressed.
type Profile struct {
	Name string

	HomePath    string
	LoginPath   string
	ListingPath string

	UsernameField string
	PasswordField string
	SubmitButton  string

	// FrameSelectors are the sub-frames that must all be present on the
	// home view of an authenticated session.
	FrameSelectors []string
	// Marker is optional text that corroborates authentication when found
	// in the first frame.
	Marker string

	ListingTable string
	ListingRows  string
	RowSelect    string
	ViewAction   string

	// ListingHeaderRows is the number of leading listing rows that are
	// headers rather than documents.
	ListingHeaderRows int

	DetailReady  string
	DetailLayout dom.DetailLayout
}

// ComercioNet returns the page profile of the ComercioNet B2B portal.
func ComercioNet() Profile {
	return Profile{
		Name:        "comercionet",
		HomePath:    "/principal.php",
		LoginPath:   "/comercionet/index.php",
		ListingPath: "/listadoDocumentos.php",

		UsernameField: `input[name="login"]`,
		PasswordField: `input[name="_password"]`,
		SubmitButton:  `input[type="submit"]`,

		FrameSelectors: []string{
			`frame[name="top"]`,
			`frame[name="menu"]`,
			`frame[name="contenido"]`,
		},
		Marker: "Expected Text or Element",

		ListingTable: "table.tabla",
		ListingRows:  "table.tabla tr",
		RowSelect:    `input[type="radio"]`,
		ViewAction:   `a[onClick="visualizar()"]`,

		ListingHeaderRows: 1,

		DetailReady: "body",
		DetailLayout: dom.DetailLayout{
			LabelSelector:       "table th",
			TablesSelector:      "table.tabla-ord_wm",
			ObservationsTable:   2,
			LineItemsTable:      3,
			AdditionalInfoTable: 4,
			Labels: dom.DetailLabels{
				Issuer:              "Emisor:",
				Receptor:            "Receptor:",
				PurchaseOrderNumber: "Número de Orden de Compra:",
				GenerationDate:      "Fecha generación Mensaje:",
				ShipmentDate:        "Fecha de Embarque:",
				CancellationDate:    "Fecha de Cancelacion:",
				PaymentConditions:   "Condiciones de Pago:",
				DeliveryLocation:    "Lugar de Entrega:",
				SalesDepartment:     "Departamento de Ventas:",
				OrderType:           "Tipo de Orden de Compra:",
				Promotion:           "Promocion:",
				ProviderNumber:      "Numero de Proveedor",
				IssuerInfo:          "Información Emisor",
				VendorInfo:          "Información Vendedor",
			},
		},
	}
}

var profiles = map[string]func() Profile{
	"comercionet": ComercioNet,
}

// Lookup returns the built-in profile registered under name.
func Lookup(name string) (Profile, bool) {
	fn, ok := profiles[strings.ToLower(name)]
	if !ok {
		return Profile{}, false
	}
	return fn(), true
}

// Names lists the built-in profiles in a stable order.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithOverrides returns a copy of p with the named selectors replaced.
// Unknown keys are rejected so a typo in the config does not go unnoticed.
func (p Profile) WithOverrides(overrides map[string]string) (Profile, error) {
	out := p
	out.FrameSelectors = append([]string(nil), p.FrameSelectors...)

	fields := map[string]*string{
		"home_path":      &out.HomePath,
		"login_path":     &out.LoginPath,
		"listing_path":   &out.ListingPath,
		"username_field": &out.UsernameField,
		"password_field": &out.PasswordField,
		"submit_button":  &out.SubmitButton,
		"marker":         &out.Marker,
		"listing_table":  &out.ListingTable,
		"listing_rows":   &out.ListingRows,
		"row_select":     &out.RowSelect,
		"view_action":    &out.ViewAction,
		"detail_ready":   &out.DetailReady,
		"detail_tables":  &out.DetailLayout.TablesSelector,
		"detail_label":   &out.DetailLayout.LabelSelector,
	}
	for i := range out.FrameSelectors {
		fields[fmt.Sprintf("frame_%d", i)] = &out.FrameSelectors[i]
	}

	for key, value := range overrides {
		target, ok := fields[strings.ToLower(key)]
		if !ok {
			return Profile{}, fmt.Errorf("unknown selector override %q for profile %s", key, p.Name)
		}
		*target = value
	}
	return out, nil
}

// Identity is everything a harvest run needs to know about one portal
// account. It is passed explicitly to each component.
type Identity struct {
	Name        string
	Credentials schemas.Credential
	BaseURL     string
	SessionKey  string
	Profile     Profile
	Filter      config.FilterConfig
}

// FromConfig builds the identity for the portal entry called name.
func FromConfig(name string, cfg config.PortalConfig) (Identity, error) {
	profileName := cfg.Profile
	if profileName == "" {
		profileName = name
	}
	profile, ok := Lookup(profileName)
	if !ok {
		return Identity{}, fmt.Errorf("portal %s: unknown profile %q (known: %s)", name, profileName, strings.Join(Names(), ", "))
	}
	profile, err := profile.WithOverrides(cfg.Selectors)
	if err != nil {
		return Identity{}, fmt.Errorf("portal %s: %w", name, err)
	}

	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return Identity{}, fmt.Errorf("portal %s: invalid base url %q", name, cfg.BaseURL)
	}

	key := cfg.SessionKey
	if key == "" {
		key = name
	}

	return Identity{
		Name:        name,
		Credentials: schemas.Credential{Username: cfg.Username, Password: cfg.Password},
		BaseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		SessionKey:  key,
		Profile:     profile,
		Filter:      cfg.Filter,
	}, nil
}

// URL joins a profile path onto the portal's base URL.
func (id Identity) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return id.BaseURL + "/" + strings.TrimLeft(path, "/")
}

// DefaultFilter returns the listing filter for the given date window,
// seeded with the portal's configured defaults.
func (id Identity) DefaultFilter(from, to string) schemas.ListingFilter {
	return schemas.ListingFilter{
		DocumentTypeID: id.Filter.DocumentTypeID,
		Direction:      id.Filter.Direction,
		DateFrom:       from,
		DateTo:         to,
		Status:         id.Filter.Status,
	}
}

// DateLayout is the ISO date format portals expect in listing filters.
const DateLayout = "2006-01-02"

// Window returns the default filter covering the lookback period ending at
// now, in now's location.
func (id Identity) Window(now time.Time, lookback time.Duration) schemas.ListingFilter {
	return id.DefaultFilter(now.Add(-lookback).Format(DateLayout), now.Format(DateLayout))
}
