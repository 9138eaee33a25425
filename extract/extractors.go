package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-crmsync/core"
)

// UserExtractor serves user_created, user_updated and user_deleted. Deleted
// users are only applicable to the delete event.
type UserExtractor struct {
	source         UserSource
	includeDeleted bool
}

func NewUserExtractor(source UserSource, includeDeleted bool) *UserExtractor {
	return &UserExtractor{source: source, includeDeleted: includeDeleted}
}

func (e *UserExtractor) Extract(ctx context.Context, objectID string) (core.Payload, bool, error) {
	if e == nil || e.source == nil {
		return nil, false, fmt.Errorf("extract: user source is not configured")
	}
	user, found, err := e.source.User(ctx, strings.TrimSpace(objectID))
	if err != nil {
		return nil, false, fmt.Errorf("extract: load user %s: %w", objectID, err)
	}
	if !found || (user.Deleted && !e.includeDeleted) {
		return nil, false, nil
	}
	return core.Payload{
		"user_id":      user.ID,
		"username":     user.Username,
		"email":        user.Email,
		"firstname":    user.FirstName,
		"lastname":     user.LastName,
		"idnumber":     user.IDNumber,
		"phone":        user.Phone,
		"city":         user.City,
		"country":      user.Country,
		"suspended":    user.Suspended,
		"deleted":      user.Deleted,
		"timecreated":  user.TimeCreated,
		"timemodified": user.TimeModified,
	}, true, nil
}

// EnrolmentExtractor serves enrollment_created and enrollment_deleted. A
// removed enrolment is only applicable to the delete event.
type EnrolmentExtractor struct {
	source         EnrolmentSource
	includeDeleted bool
}

func NewEnrolmentExtractor(source EnrolmentSource, includeDeleted bool) *EnrolmentExtractor {
	return &EnrolmentExtractor{source: source, includeDeleted: includeDeleted}
}

func (e *EnrolmentExtractor) Extract(ctx context.Context, objectID string) (core.Payload, bool, error) {
	if e == nil || e.source == nil {
		return nil, false, fmt.Errorf("extract: enrolment source is not configured")
	}
	enrolment, found, err := e.source.Enrolment(ctx, strings.TrimSpace(objectID))
	if err != nil {
		return nil, false, fmt.Errorf("extract: load enrolment %s: %w", objectID, err)
	}
	if !found || (enrolment.Deleted && !e.includeDeleted) {
		return nil, false, nil
	}
	return core.Payload{
		"enrolment_id":     enrolment.ID,
		"user_id":          enrolment.UserID,
		"course_id":        enrolment.CourseID,
		"course_shortname": enrolment.CourseShortName,
		"course_fullname":  enrolment.CourseFullName,
		"role":             enrolment.Role,
		"status":           enrolment.Status,
		"deleted":          enrolment.Deleted,
		"timestart":        enrolment.TimeStart,
		"timeend":          enrolment.TimeEnd,
		"timecreated":      enrolment.TimeCreated,
	}, true, nil
}

// GradeExtractor builds grade_updated payloads. A grade without a final value,
// a deleted grade or a grade whose item is gone is not applicable.
type GradeExtractor struct {
	grades GradeSource
	items  GradeItemSource
}

func NewGradeExtractor(grades GradeSource, items GradeItemSource) *GradeExtractor {
	return &GradeExtractor{grades: grades, items: items}
}

func (e *GradeExtractor) Extract(ctx context.Context, objectID string) (core.Payload, bool, error) {
	if e == nil || e.grades == nil || e.items == nil {
		return nil, false, fmt.Errorf("extract: grade sources are not configured")
	}
	grade, found, err := e.grades.Grade(ctx, strings.TrimSpace(objectID))
	if err != nil {
		return nil, false, fmt.Errorf("extract: load grade %s: %w", objectID, err)
	}
	if !found || grade.Deleted || grade.FinalGrade == nil {
		return nil, false, nil
	}
	item, found, err := e.items.GradeItem(ctx, grade.ItemID)
	if err != nil {
		return nil, false, fmt.Errorf("extract: load grade item %s: %w", grade.ItemID, err)
	}
	if !found {
		return nil, false, nil
	}

	raw := *grade.FinalGrade
	return core.Payload{
		"grade_id":           grade.ID,
		"user_id":            grade.UserID,
		"item_id":            item.ID,
		"course_id":          item.CourseID,
		"item_name":          item.ItemName,
		"item_module":        item.ItemModule,
		"attempt":            grade.Attempt,
		"finalgrade":         raw,
		"grademin":           item.GradeMin,
		"grademax":           item.GradeMax,
		"finalgrade_numeric": NormalizeGrade(raw, item.GradeMin, item.GradeMax),
		"btec_grade":         string(BTECCategory(grade.FinalGrade)),
		"feedback":           grade.Feedback,
		"timemodified":       grade.TimeModified,
	}, true, nil
}

type SubmissionExtractor struct {
	source SubmissionSource
}

func NewSubmissionExtractor(source SubmissionSource) *SubmissionExtractor {
	return &SubmissionExtractor{source: source}
}

func (e *SubmissionExtractor) Extract(ctx context.Context, objectID string) (core.Payload, bool, error) {
	if e == nil || e.source == nil {
		return nil, false, fmt.Errorf("extract: submission source is not configured")
	}
	submission, found, err := e.source.Submission(ctx, strings.TrimSpace(objectID))
	if err != nil {
		return nil, false, fmt.Errorf("extract: load submission %s: %w", objectID, err)
	}
	if !found || submission.Deleted {
		return nil, false, nil
	}
	return core.Payload{
		"submission_id": submission.ID,
		"assignment_id": submission.AssignmentID,
		"user_id":       submission.UserID,
		"course_id":     submission.CourseID,
		"attempt":       submission.Attempt,
		"status":        submission.Status,
		"timecreated":   submission.TimeCreated,
		"timemodified":  submission.TimeModified,
	}, true, nil
}

// Extractors builds the dispatch table for every event type whose sources are
// present.
func Extractors(sources Sources) map[core.EventType]core.Extractor {
	table := map[core.EventType]core.Extractor{}
	if sources.Users != nil {
		table[core.EventUserCreated] = NewUserExtractor(sources.Users, false)
		table[core.EventUserUpdated] = NewUserExtractor(sources.Users, false)
		table[core.EventUserDeleted] = NewUserExtractor(sources.Users, true)
	}
	if sources.Enrolments != nil {
		table[core.EventEnrollmentCreated] = NewEnrolmentExtractor(sources.Enrolments, false)
		table[core.EventEnrollmentDeleted] = NewEnrolmentExtractor(sources.Enrolments, true)
	}
	if sources.Grades != nil && sources.GradeItems != nil {
		table[core.EventGradeUpdated] = NewGradeExtractor(sources.Grades, sources.GradeItems)
	}
	if sources.Submissions != nil {
		table[core.EventSubmissionCreated] = NewSubmissionExtractor(sources.Submissions)
	}
	return table
}

var (
	_ core.Extractor = (*UserExtractor)(nil)
	_ core.Extractor = (*EnrolmentExtractor)(nil)
	_ core.Extractor = (*GradeExtractor)(nil)
	_ core.Extractor = (*SubmissionExtractor)(nil)
)
