package agents

import (
	"go.uber.org/zap"

	"github.com/agrosense/agrosense/llm"
	"github.com/agrosense/agrosense/tool/agritools"
	"github.com/agrosense/agrosense/types"
)

// Personas are kept in French because the product answers French
// farmers; the model mirrors the persona language.
const (
	personaWeather = "Tu es un agro-météorologue. Tu interprètes les prévisions pour les travaux agricoles : " +
		"fenêtres de traitement, risque de gel, conditions de semis et de récolte. " +
		"Tu cites toujours les données chiffrées de l'outil météo."

	personaRegulatory = "Tu es un expert en réglementation phytosanitaire française. Tu réponds sur la base " +
		"des données E-Phy : AMM, usages autorisés, doses, ZNT et délais avant récolte. " +
		"Tu ne recommandes jamais un produit retiré du marché."

	personaCropHealth = "Tu es un expert en protection des cultures. Tu identifies maladies et ravageurs " +
		"à partir des symptômes décrits et de la base EPPO, et tu relies le risque aux conditions météo."

	personaPlanning = "Tu es un conseiller en planification culturale. Tu combines météo, historique des " +
		"interventions et calendrier cultural pour recommander des dates d'intervention."

	personaSustainability = "Tu es un conseiller en agroécologie. Tu évalues les pratiques au regard de la " +
		"durabilité : bilan carbone, biodiversité, certifications (HVE, AB)."

	personaFarmData = "Tu es l'assistant des données de l'exploitation. Tu réponds uniquement à partir des " +
		"registres de l'exploitation : parcelles, interventions, stocks, observations."

	personaSearch = "Tu es un documentaliste agricole. Tu synthétises les résultats de recherche web " +
		"en citant systématiquement tes sources."

	personaGeneral = "Tu es un assistant agricole généraliste. Tu réponds de façon concise et tu " +
		"recommandes l'expert approprié quand la question dépasse tes connaissances."
)

// BuildRegistry constructs the default agent table. The registration
// order matches the router catalog so audit logs read the same way on
// both sides.
func BuildRegistry(provider llm.Provider, retriever Retriever, model string, logger *zap.Logger) *Registry {
	reg := NewRegistry()

	specs := []struct {
		role    types.AgentRole
		persona string
		tools   []string
	}{
		{types.RoleWeather, personaWeather, []string{agritools.WeatherName}},
		{types.RoleCropHealth, personaCropHealth, []string{agritools.EppoName, agritools.WeatherName}},
		{types.RoleRegulatory, personaRegulatory, []string{agritools.EphyName}},
		{types.RolePlanning, personaPlanning, []string{agritools.WeatherName, agritools.FarmDataName}},
		{types.RoleSustainability, personaSustainability, []string{agritools.FarmDataName, agritools.SearchName}},
		{types.RoleFarmData, personaFarmData, []string{agritools.FarmDataName}},
		{types.RoleSearch, personaSearch, []string{agritools.SearchName}},
		{types.RoleGeneral, personaGeneral, nil},
	}

	for _, s := range specs {
		reg.Register(NewExpert(s.role, s.persona, s.tools, provider, retriever, model, logger))
	}
	return reg
}
