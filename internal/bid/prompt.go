package bid

import (
	"fmt"
	"strings"

	"etenders/internal/models"
)

// Permissive qualification policy: any significant IT component is a
// recommendation and doubt resolves towards bidding.
const policy = `TENDER SHOULD BE RECOMMENDED (should_bid=true) IF IT INCLUDES ANY OF:
- Software development, customization or modernization
- Cloud infrastructure, migration or managed services
- Data platforms, analytics, business intelligence, AI/ML
- Enterprise software implementation (Oracle, SAP, Microsoft Dynamics, Salesforce)
- IT infrastructure design, networking or cybersecurity
- Digital transformation, web/mobile applications, portals or digital services
- IT consulting, architecture, strategy or advisory services
- Managed IT services, application support or DevOps
- Software license management, FinOps or IT governance
- IT hardware procurement WITH a significant software/services component
- System integration, API development or middleware
- Database design, administration or optimization

TENDER CAN BE REJECTED (should_bid=false) IF IT IS CLEARLY:
- Physical goods with NO IT services (furniture, office supplies, vehicles)
- Construction or building works with NO IT/digital component
- Food, catering, hospitality, cleaning or janitorial services
- Medical supplies or pharmaceuticals (not healthcare IT systems)
- Agricultural products, transport or logistics operations, printing
- HR/recruitment for non-IT roles or management consulting with NO technology component

IMPORTANT:
- Mixed tenders (hardware + software + services) are good candidates.
- Validated IT classification codes are strong evidence for recommending.
- When in doubt about IT relevance, recommend the bid.

Return ONLY valid JSON:
{
  "should_bid": true,
  "confidence": "high|medium|low",
  "reasoning": "why this tender is or is not a fit",
  "relevant_factors": ["factors that influenced the decision"],
  "estimated_fit": 0
}
estimated_fit is 0-100: 60-100 for IT related tenders, 0-30 otherwise.
`

// Prompt builds the qualification prompt for one tender and whatever
// enrichment and code records are available.
func Prompt(tender models.NormalizedRecord, enrichment *models.EnrichmentRecord, codes *models.ClassificationCodeRecord) string {
	var b strings.Builder

	b.WriteString("You are a bid qualification analyst for a technology consultancy specializing in ")
	b.WriteString("enterprise software, cloud services, data platforms and IT modernization.\n\n")

	classification := "N/A"
	if enrichment != nil && enrichment.MainClassification != "" {
		classification = enrichment.MainClassification.String()
	}

	var (
		count     int
		codeList  []string
		validated bool
	)

	if codes != nil {
		count, codeList, validated = codes.CPVCount, codes.CPVCodes, codes.HasValidatedCPV
	}

	fmt.Fprintf(&b, "TENDER DETAILS:\nTitle: %s\nContracting Authority: %s\nEstimated Value: %s\nInfo: %s\n",
		orNA(tender.Title), orNA(tender.ContractingAuthority), orNA(tender.EstimatedValue), orNA(tender.Info))
	fmt.Fprintf(&b, "Main Classification: %s\nCPV Codes Found: %d\nCPV Codes: [%s]\nHas Validated IT/Software CPV: %t\n\n",
		classification, count, strings.Join(codeList, ", "), validated)

	b.WriteString("FULL PDF CONTENT (all sections):\n")
	b.WriteString(sectionText(enrichment))
	b.WriteString("\n\n")
	b.WriteString(policy)

	return b.String()
}

func sectionText(enrichment *models.EnrichmentRecord) string {
	if enrichment == nil {
		return "No PDF content available"
	}

	var lines []string

	for _, s := range enrichment.Sections {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}

		lines = append(lines, s.Heading+": "+s.Text)
	}

	if len(lines) == 0 {
		return "No PDF content available"
	}

	return strings.Join(lines, "\n")
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}

	return s
}
