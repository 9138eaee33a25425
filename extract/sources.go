package extract

import "context"

// Host collaborators. Each lookup returns found=false for a missing row instead
// of an error.

type User struct {
	ID           string
	Username     string
	Email        string
	FirstName    string
	LastName     string
	IDNumber     string
	Phone        string
	City         string
	Country      string
	Suspended    bool
	Deleted      bool
	TimeCreated  int64
	TimeModified int64
}

type UserSource interface {
	User(ctx context.Context, id string) (User, bool, error)
}

type Enrolment struct {
	ID              string
	UserID          string
	CourseID        string
	CourseShortName string
	CourseFullName  string
	Role            string
	Status          string
	Deleted         bool
	TimeStart       int64
	TimeEnd         int64
	TimeCreated     int64
}

type EnrolmentSource interface {
	Enrolment(ctx context.Context, id string) (Enrolment, bool, error)
}

type Grade struct {
	ID           string
	ItemID       string
	UserID       string
	Attempt      int
	FinalGrade   *float64
	Feedback     string
	Deleted      bool
	TimeModified int64
}

type GradeSource interface {
	Grade(ctx context.Context, id string) (Grade, bool, error)
}

type GradeItem struct {
	ID         string
	CourseID   string
	ItemName   string
	ItemModule string
	GradeMin   float64
	GradeMax   float64
}

type GradeItemSource interface {
	GradeItem(ctx context.Context, id string) (GradeItem, bool, error)
}

type Submission struct {
	ID           string
	AssignmentID string
	UserID       string
	CourseID     string
	Attempt      int
	Status       string
	Deleted      bool
	TimeCreated  int64
	TimeModified int64
}

type SubmissionSource interface {
	Submission(ctx context.Context, id string) (Submission, bool, error)
}

// Sources groups the host lookups. Any nil source leaves its event types
// without an extractor.
type Sources struct {
	Users       UserSource
	Enrolments  EnrolmentSource
	Grades      GradeSource
	GradeItems  GradeItemSource
	Submissions SubmissionSource
}
