package trials

import (
	"strings"

	"compass/internal/agent/ports"
	"compass/internal/session"
)

// study mirrors the slice of the ClinicalTrials.gov v2 study record this
// module reads. Everything else in the API payload is ignored.
type study struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID         string `json:"nctId"`
			BriefTitle    string `json:"briefTitle"`
			OfficialTitle string `json:"officialTitle"`
		} `json:"identificationModule"`
		StatusModule struct {
			OverallStatus   string     `json:"overallStatus"`
			StartDateStruct dateStruct `json:"startDateStruct"`
			CompletionDate  dateStruct `json:"completionDateStruct"`
		} `json:"statusModule"`
		DescriptionModule struct {
			BriefSummary        string `json:"briefSummary"`
			DetailedDescription string `json:"detailedDescription"`
		} `json:"descriptionModule"`
		ConditionsModule struct {
			Conditions []string `json:"conditions"`
		} `json:"conditionsModule"`
		DesignModule struct {
			StudyType      string   `json:"studyType"`
			Phases         []string `json:"phases"`
			EnrollmentInfo struct {
				Count *int `json:"count"`
			} `json:"enrollmentInfo"`
		} `json:"designModule"`
		ArmsInterventionsModule struct {
			ArmGroups []struct {
				Label       string `json:"label"`
				Type        string `json:"type"`
				Description string `json:"description"`
			} `json:"armGroups"`
			Interventions []struct {
				Name string `json:"name"`
			} `json:"interventions"`
		} `json:"armsInterventionsModule"`
		OutcomesModule struct {
			PrimaryOutcomes []struct {
				Measure   string `json:"measure"`
				TimeFrame string `json:"timeFrame"`
			} `json:"primaryOutcomes"`
		} `json:"outcomesModule"`
		EligibilityModule struct {
			EligibilityCriteria string `json:"eligibilityCriteria"`
			MinimumAge          string `json:"minimumAge"`
			MaximumAge          string `json:"maximumAge"`
			Sex                 string `json:"sex"`
			HealthyVolunteers   bool   `json:"healthyVolunteers"`
		} `json:"eligibilityModule"`
		SponsorCollaboratorsModule struct {
			LeadSponsor struct {
				Name string `json:"name"`
			} `json:"leadSponsor"`
		} `json:"sponsorCollaboratorsModule"`
		ContactsLocationsModule struct {
			Locations []struct {
				Facility string `json:"facility"`
				City     string `json:"city"`
				State    string `json:"state"`
				Country  string `json:"country"`
				Zip      string `json:"zip"`
				Status   string `json:"status"`
				GeoPoint *struct {
					Lat float64 `json:"lat"`
					Lon float64 `json:"lon"`
				} `json:"geoPoint"`
				Contacts []struct {
					Name  string `json:"name"`
					Phone string `json:"phone"`
					Email string `json:"email"`
				} `json:"contacts"`
			} `json:"locations"`
		} `json:"contactsLocationsModule"`
	} `json:"protocolSection"`
}

type dateStruct struct {
	Date string `json:"date"`
}

func (s *study) phase() string {
	return strings.Join(s.ProtocolSection.DesignModule.Phases, " / ")
}

func (s *study) interventionNames() []string {
	arms := s.ProtocolSection.ArmsInterventionsModule
	names := make([]string, 0, len(arms.Interventions))
	for _, iv := range arms.Interventions {
		if iv.Name != "" {
			names = append(names, iv.Name)
		}
	}
	return names
}

func (s *study) locations() []session.TrialLocation {
	raw := s.ProtocolSection.ContactsLocationsModule.Locations
	out := make([]session.TrialLocation, 0, len(raw))
	for _, loc := range raw {
		tl := session.TrialLocation{
			Facility: loc.Facility,
			City:     loc.City,
			State:    loc.State,
			Country:  loc.Country,
			ZipCode:  loc.Zip,
			Status:   loc.Status,
		}
		if loc.GeoPoint != nil {
			lat, lon := loc.GeoPoint.Lat, loc.GeoPoint.Lon
			tl.Latitude = &lat
			tl.Longitude = &lon
		}
		if len(loc.Contacts) > 0 {
			tl.ContactName = loc.Contacts[0].Name
			tl.ContactPhone = loc.Contacts[0].Phone
			tl.ContactEmail = loc.Contacts[0].Email
		}
		out = append(out, tl)
	}
	return out
}

func (s *study) summary() session.TrialSummary {
	p := s.ProtocolSection
	return session.TrialSummary{
		NCTID:           p.IdentificationModule.NCTID,
		BriefTitle:      p.IdentificationModule.BriefTitle,
		OfficialTitle:   p.IdentificationModule.OfficialTitle,
		OverallStatus:   p.StatusModule.OverallStatus,
		Phase:           s.phase(),
		StudyType:       p.DesignModule.StudyType,
		BriefSummary:    p.DescriptionModule.BriefSummary,
		Conditions:      p.ConditionsModule.Conditions,
		Interventions:   s.interventionNames(),
		EnrollmentCount: p.DesignModule.EnrollmentInfo.Count,
		StartDate:       p.StatusModule.StartDateStruct.Date,
		CompletionDate:  p.StatusModule.CompletionDate.Date,
		Sponsor:         p.SponsorCollaboratorsModule.LeadSponsor.Name,
		Locations:       s.locations(),
	}
}

func (s *study) detail() *ports.TrialDetail {
	p := s.ProtocolSection

	outcomes := make([]ports.TrialOutcome, 0, len(p.OutcomesModule.PrimaryOutcomes))
	for _, o := range p.OutcomesModule.PrimaryOutcomes {
		outcomes = append(outcomes, ports.TrialOutcome{Measure: o.Measure, TimeFrame: o.TimeFrame})
	}

	arms := make([]ports.TrialArm, 0, len(p.ArmsInterventionsModule.ArmGroups))
	for _, a := range p.ArmsInterventionsModule.ArmGroups {
		arms = append(arms, ports.TrialArm{Label: a.Label, Type: a.Type, Description: a.Description})
	}

	return &ports.TrialDetail{
		NCTID:                   p.IdentificationModule.NCTID,
		BriefTitle:              p.IdentificationModule.BriefTitle,
		OfficialTitle:           p.IdentificationModule.OfficialTitle,
		OverallStatus:           p.StatusModule.OverallStatus,
		Phase:                   s.phase(),
		StudyType:               p.DesignModule.StudyType,
		BriefSummary:            p.DescriptionModule.BriefSummary,
		DetailedDescription:     p.DescriptionModule.DetailedDescription,
		Interventions:           s.interventionNames(),
		PrimaryOutcomes:         outcomes,
		EligibilityCriteriaText: p.EligibilityModule.EligibilityCriteria,
		MinAge:                  p.EligibilityModule.MinimumAge,
		MaxAge:                  p.EligibilityModule.MaximumAge,
		Sex:                     p.EligibilityModule.Sex,
		Enrollment:              p.DesignModule.EnrollmentInfo.Count,
		Sponsor:                 p.SponsorCollaboratorsModule.LeadSponsor.Name,
		Arms:                    arms,
	}
}
