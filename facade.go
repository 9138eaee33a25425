package crmsync

import (
	"fmt"

	crmcommand "github.com/goliatone/go-crmsync/command"
	crmquery "github.com/goliatone/go-crmsync/query"
)

// AdminService is everything the admin surface needs from the service.
type AdminService interface {
	crmcommand.AdminService
	crmquery.EventReader
	crmquery.GradeReader
	crmquery.TokenReader
}

type Commands struct {
	RetryEvent   *crmcommand.RetryEventCommand
	DeleteEvent  *crmcommand.DeleteEventCommand
	Cleanup      *crmcommand.CleanupCommand
	Sweep        *crmcommand.SweepCommand
	ResetGrade   *crmcommand.ResetGradeCommand
	DeriveGrades *crmcommand.DeriveGradesCommand
	SetToken     *crmcommand.SetTokenCommand
}

type Queries struct {
	ListEvents  *crmquery.ListEventsQuery
	GetEvent    *crmquery.GetEventQuery
	EventStats  *crmquery.EventStatsQuery
	ListGrades  *crmquery.ListGradesQuery
	MaskedToken *crmquery.MaskedTokenQuery
}

type Facade struct {
	service  AdminService
	commands Commands
	queries  Queries
}

func NewFacade(service AdminService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("crmsync: admin service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			RetryEvent:   crmcommand.NewRetryEventCommand(service),
			DeleteEvent:  crmcommand.NewDeleteEventCommand(service),
			Cleanup:      crmcommand.NewCleanupCommand(service),
			Sweep:        crmcommand.NewSweepCommand(service),
			ResetGrade:   crmcommand.NewResetGradeCommand(service),
			DeriveGrades: crmcommand.NewDeriveGradesCommand(service),
			SetToken:     crmcommand.NewSetTokenCommand(service),
		},
		queries: Queries{
			ListEvents:  crmquery.NewListEventsQuery(service),
			GetEvent:    crmquery.NewGetEventQuery(service),
			EventStats:  crmquery.NewEventStatsQuery(service),
			ListGrades:  crmquery.NewListGradesQuery(service),
			MaskedToken: crmquery.NewMaskedTokenQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() AdminService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ AdminService = (*Service)(nil)
