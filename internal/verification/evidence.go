package verification

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingEvidence is returned when a facet has nothing to analyze
var ErrMissingEvidence = errors.New("missing evidence")

// facetPayload builds the capability request payload for one facet of a submission.
func facetPayload(sub *Submission, facet Facet) (map[string]any, error) {
	ev := sub.Evidence
	switch facet {
	case FacetImage:
		if len(ev.Media) == 0 {
			return nil, fmt.Errorf("%w: no media attached", ErrMissingEvidence)
		}
		media := make([]map[string]any, 0, len(ev.Media))
		for _, m := range ev.Media {
			media = append(media, map[string]any{"url": m.URL, "type": m.Type})
		}
		payload := map[string]any{"media": media}
		if sub.Kind == KindComplaint {
			payload["complaint_category"] = ev.Category
		} else if p := ev.Plantation; p != nil {
			payload["plantationName"] = p.Name
			payload["species"] = p.Species
			payload["area"] = p.AreaHectares
			payload["plantingDate"] = formatDate(p.PlantingDate)
		}
		return payload, nil

	case FacetGeo:
		if ev.Location == nil {
			return nil, fmt.Errorf("%w: no coordinates", ErrMissingEvidence)
		}
		return map[string]any{
			"location":           locationPayload(ev.Location),
			"complaint_date":     formatDate(sub.CreatedAt),
			"complaint_category": ev.Category,
		}, nil

	case FacetText:
		if strings.TrimSpace(ev.Description) == "" {
			return nil, fmt.Errorf("%w: empty description", ErrMissingEvidence)
		}
		return map[string]any{
			"description":        ev.Description,
			"complaint_category": ev.Category,
		}, nil

	case FacetData:
		p := ev.Plantation
		if p == nil {
			return nil, fmt.Errorf("%w: no plantation details", ErrMissingEvidence)
		}
		return map[string]any{
			"plantationName":       p.Name,
			"area":                 p.AreaHectares,
			"species":              p.Species,
			"plantingDate":         formatDate(p.PlantingDate),
			"survivalRate":         p.SurvivalRate,
			"expectedCarbonCredit": p.ExpectedCredits,
			"submissionDate":       formatDate(sub.CreatedAt),
		}, nil

	case FacetDocument:
		if ev.Documents.Empty() {
			return nil, fmt.Errorf("%w: no certificates", ErrMissingEvidence)
		}
		payload := map[string]any{
			"soilCertificate":  ev.Documents.SoilCertificate,
			"plantCertificate": ev.Documents.PlantCertificate,
			"additionalDocs":   ev.Documents.Additional,
		}
		if p := ev.Plantation; p != nil {
			payload["plantingDate"] = formatDate(p.PlantingDate)
			payload["species"] = p.Species
		}
		if ev.Location != nil {
			payload["location"] = locationPayload(ev.Location)
		}
		return payload, nil

	case FacetLocation:
		if ev.Location == nil {
			return nil, fmt.Errorf("%w: no coordinates", ErrMissingEvidence)
		}
		payload := map[string]any{"location": locationPayload(ev.Location)}
		if p := ev.Plantation; p != nil {
			payload["plantationName"] = p.Name
			payload["species"] = p.Species
			payload["area"] = p.AreaHectares
			payload["plantingDate"] = formatDate(p.PlantingDate)
		}
		return payload, nil
	}
	return nil, fmt.Errorf("unsupported facet %q", facet)
}

func locationPayload(loc *Location) map[string]any {
	address := loc.Address
	if address == "" {
		address = fmt.Sprintf("%.6f, %.6f", loc.Lat, loc.Lng)
	}
	return map[string]any{"lat": loc.Lat, "lng": loc.Lng, "address": address}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
