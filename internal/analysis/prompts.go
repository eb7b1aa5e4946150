package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"carbon-scribe/verification-service/internal/verification"
)

const responseRules = `Return only a single JSON object. Do not wrap it in markdown or code fences.
"confidence" is a number between 0 and 1. "score" is a number between 0 and 100.`

// facetInstructions describe what the model must judge for each facet and the JSON
// shape it must answer with.
var facetInstructions = map[verification.Facet]string{
	verification.FacetImage: `You review photographs submitted as evidence of an environmental claim.
Judge whether the media is authentic, shows what the claim describes and is recent.
For complaints, look for cutting, dumping, pollution or fire damage in coastal vegetation.
For plantations, look for young mangrove or tree plantings consistent with the declared species and area.
Answer with: {"imageCheck": boolean, "confidence": number, "score": number,
"detectedIssues": [string], "authenticity": string, "observations": string}`,

	verification.FacetGeo: `You assess the location of an environmental complaint.
Judge whether the coordinates are plausible for the reported incident, whether they fall inside a
mangrove or otherwise protected zone, and whether recent land-cover change is likely there.
If "protectedZone" is present in the input, the point lies inside that catalogued zone.
Answer with: {"geoCheck": boolean, "confidence": number, "score": number,
"isInMangroveZone": boolean, "recentChangesDetected": boolean, "notes": string}`,

	verification.FacetText: `You read the written description of an environmental complaint.
Judge whether it is specific and coherent, matches the category, and whether it describes severe harm.
List the words or phrases that indicate severity (for example clear-cut, burning, large scale, toxic).
Answer with: {"textCheck": boolean, "confidence": number, "score": number,
"preliminarySeverity": "low"|"medium"|"high", "severityKeywords": [string], "summary": string}`,

	verification.FacetData: `You validate the declared facts of a mangrove plantation claim.
Check completeness, that the planting date is in the past and before submission, that the survival rate
is realistic, that the species are real, that the area is reasonable, and that the expected carbon credit
is consistent with the area and species.
Answer with: {"dataCheck": boolean, "confidence": number, "score": number,
"issues": [string], "checks": {"completeness": boolean, "dateLogic": boolean, "survivalRate": boolean,
"speciesValidity": boolean, "areaReasonableness": boolean, "carbonCreditLogic": boolean}}`,

	verification.FacetDocument: `You review the certificates attached to a plantation claim.
Judge whether the soil and plant certificates are present, plausible, issued for this planting and
consistent with the declared species, date and location.
Answer with: {"documentCheck": boolean, "confidence": number, "score": number,
"certificatesValid": boolean, "missingDocuments": [string], "issues": [string]}`,

	verification.FacetLocation: `You assess the site of a plantation claim.
Judge whether the coordinates are in a coastal or estuarine region suitable for the declared species,
whether the area is a mangrove region, and whether it looks like protected or restricted land.
If "protectedZone" is present in the input, the point lies inside that catalogued zone.
Answer with: {"locationCheck": boolean, "confidence": number, "score": number,
"suitableForSpecies": boolean, "mangroveRegion": boolean, "concerns": [string]}`,

	verification.FacetSynthesis: `You write the verification summary for a reviewer.
The decision has already been made and is included in the input as finalStatus, overallScore and credits.
Explain it in two or three sentences using the individual check results. Do not change the decision.
Answer with: {"summary": string, "strengths": [string], "concerns": [string]}`,
}

// BuildPrompt renders the prompt for one capability request
func BuildPrompt(req verification.AnalysisRequest) (string, error) {
	instructions, ok := facetInstructions[req.Facet]
	if !ok {
		return "", fmt.Errorf("no prompt for facet %q", req.Facet)
	}

	input, err := json.MarshalIndent(req.Payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", req.Facet, err)
	}

	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")
	b.WriteString(responseRules)
	fmt.Fprintf(&b, "\n\nSubmission kind: %s\n", req.Kind)
	if req.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", req.Category)
	}
	b.WriteString("Input:\n")
	b.Write(input)
	b.WriteString("\n")
	return b.String(), nil
}
