package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/recordkeeper/internal/models"
	appErrors "github.com/noah-isme/recordkeeper/pkg/errors"
	"github.com/noah-isme/recordkeeper/pkg/password"
)

func TestRegisterStudentAssignsIdentity(t *testing.T) {
	f := newFixture(70)

	profile, err := f.enrollment.RegisterStudent(context.Background(), RegisterStudentRequest{
		Username:  "  Ann.Lee ",
		Password:  "secret",
		FirstName: " Ann ",
		LastName:  "Lee",
		Branch:    "cse",
		Extra:     models.Extra{"hostel": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "1001", profile.PRN)
	assert.Equal(t, "ann.lee", profile.Username)
	assert.Equal(t, "CSE", profile.Branch)
	assert.Equal(t, "1", profile.Division)
	assert.Equal(t, "CS101", profile.ClassRoll)
	assert.Equal(t, "ann.lee.1001@cse.college.edu", profile.Email)
	assert.Equal(t, models.Extra{"hostel": true}, profile.Extra)

	stored, err := f.store.FindByPRN(context.Background(), "1001")
	require.NoError(t, err)
	assert.True(t, password.Verify("secret", stored.Salt, stored.PasswordHash))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.registrations.WithLabelValues("CSE")))
}

func TestRegisterStudentValidation(t *testing.T) {
	f := newFixture(70)
	_, err := f.register("ann", "  ", "Lee", "CSE")
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, "first_name is required", appErrors.FromError(err).Message)

	_, err = f.enrollment.RegisterStudent(context.Background(), RegisterStudentRequest{Username: "bob", Password: " ", FirstName: "Bob", LastName: "Stone", Branch: "CSE"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, "password is required", appErrors.FromError(err).Message)

	_, err = f.enrollment.RegisterStudent(context.Background(), RegisterStudentRequest{Username: "cat", Password: "pw", FirstName: "Cat", LastName: "Ng", Branch: "CSE", Extra: models.Extra{"": 1}})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	next, _ := f.store.Next(context.Background())
	assert.Equal(t, int64(1001), next, "rejected registrations consume no prn")
}

func TestRegisterStudentUsernameConflictIsCaseInsensitive(t *testing.T) {
	f := newFixture(70)
	_, err := f.register("ann", "Ann", "Lee", "CSE")
	require.NoError(t, err)

	_, err = f.register("ANN", "Ann", "Other", "ECE")
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.rejections.WithLabelValues(RejectConflict)))
}

func TestRegisterStudentCapacityBound(t *testing.T) {
	f := newFixture(2)
	for i := 0; i < 6; i++ {
		_, err := f.register(fmt.Sprintf("s%d", i), "First", "Last", "CSE")
		require.NoError(t, err)
	}
	_, err := f.register("overflow", "First", "Last", "CSE")
	require.ErrorIs(t, err, appErrors.ErrCapacityExceeded)

	counts, _ := f.store.CountByDivision(context.Background(), "CSE")
	assert.Equal(t, map[string]int{"1": 2, "2": 2, "3": 2}, counts)
}

func TestRegisterStudentTieBreakPrefersFirstDivision(t *testing.T) {
	f := newFixture(3)
	for i := 0; i < 2; i++ {
		_, err := f.register(fmt.Sprintf("s%d", i), "First", "Last", "CSE")
		require.NoError(t, err)
	}
	profile, err := f.register("next", "First", "Last", "CSE")
	require.NoError(t, err)
	assert.Equal(t, "1", profile.Division)
	assert.Equal(t, "CS103", profile.ClassRoll)

	profile, err = f.register("after", "First", "Last", "CSE")
	require.NoError(t, err)
	assert.Equal(t, "2", profile.Division)
	assert.Equal(t, "CS201", profile.ClassRoll)
}

// Class roll sequences follow live occupancy, so a roll freed by a deletion is
// handed to the next registrant while the PRN keeps increasing.
func TestRegisterStudentReusesFreedClassRoll(t *testing.T) {
	f := newFixture(70)
	var prns []string
	for i, name := range []string{"a", "b", "c"} {
		p, err := f.register(name, "First", "Last", "CS")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("CS10%d", i+1), p.ClassRoll)
		prns = append(prns, p.PRN)
	}
	require.NoError(t, f.students.DeleteStudent(context.Background(), prns[1], nil))

	p, err := f.register("d", "First", "Last", "CS")
	require.NoError(t, err)
	assert.Equal(t, "CS102", p.ClassRoll)
	assert.Equal(t, "1004", p.PRN, "prns are never reused")
}

func TestRegisterStudentRollsBackOnStoreFailure(t *testing.T) {
	f := newFixture(70)
	f.store.failNext = errors.New("disk full")

	_, err := f.register("ann", "Ann", "Lee", "CSE")
	require.ErrorIs(t, err, appErrors.ErrInternal)

	p, err := f.register("ann", "Ann", "Lee", "CSE")
	require.NoError(t, err)
	assert.Equal(t, "1001", p.PRN)
	assert.Equal(t, "CS101", p.ClassRoll)
}

func TestRegisterStudentConcurrentUniqueness(t *testing.T) {
	f := newFixture(10)
	const workers = 40
	var wg sync.WaitGroup
	results := make(chan *models.StudentProfile, workers)
	failures := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := f.register(fmt.Sprintf("user%d", i), "First", "Last", "CSE")
			if err != nil {
				failures <- err
				return
			}
			results <- p
		}(i)
	}
	wg.Wait()
	close(results)
	close(failures)

	prns, rolls := map[string]bool{}, map[string]bool{}
	perDivision := map[string]int{}
	for p := range results {
		assert.False(t, prns[p.PRN], "duplicate prn %s", p.PRN)
		assert.False(t, rolls[p.ClassRoll], "duplicate roll %s", p.ClassRoll)
		prns[p.PRN], rolls[p.ClassRoll] = true, true
		perDivision[p.Division]++
	}
	assert.Len(t, prns, 30)
	for division, count := range perDivision {
		assert.LessOrEqual(t, count, 10, "division %s", division)
	}
	for err := range failures {
		assert.ErrorIs(t, err, appErrors.ErrCapacityExceeded)
	}
}

// CSX and CSE both map to the CS code, so their rolls come from one sequence pool.
func TestRegisterStudentSkipsDivisionWhoseRollsAreHeldBySameCodeBranch(t *testing.T) {
	f := newFixture(2)
	for _, name := range []string{"x1", "x2"} {
		_, err := f.register(name, "First", "Last", "CSX")
		require.NoError(t, err)
	}

	p, err := f.register("e1", "First", "Last", "CSE")
	require.NoError(t, err)
	assert.Equal(t, "2", p.Division)
	assert.Equal(t, "CS201", p.ClassRoll)

	p, err = f.register("e2", "First", "Last", "CSE")
	require.NoError(t, err)
	assert.Equal(t, "CS202", p.ClassRoll)

	p, err = f.register("e3", "First", "Last", "CSE")
	require.NoError(t, err)
	assert.Equal(t, "3", p.Division)
	assert.Equal(t, "CS301", p.ClassRoll)

	_, err = f.register("e4", "First", "Last", "CSE")
	require.NoError(t, err)

	_, err = f.register("e5", "First", "Last", "CSE")
	require.ErrorIs(t, err, appErrors.ErrCapacityExceeded)
	assert.Contains(t, err.Error(), "all divisions for branch CSE are full")
}
