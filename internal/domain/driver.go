package domain

import "fmt"

// Driver is the closed vocabulary of attrition-risk factors. Keeping it a
// closed type means the action-rule switch stays exhaustive: a new driver
// does not silently produce no action.
type Driver string

const (
	DriverCompensation        Driver = "compensation"
	DriverManagerRelationship Driver = "manager_relationship"
	DriverWorkload            Driver = "workload"
	DriverCareerGrowth        Driver = "career_growth"
	DriverWorkLifeBalance     Driver = "work_life_balance"
	DriverRecognition         Driver = "recognition"
)

// Drivers lists every known driver in display-rank order.
func Drivers() []Driver {
	return []Driver{
		DriverCompensation,
		DriverManagerRelationship,
		DriverWorkload,
		DriverCareerGrowth,
		DriverWorkLifeBalance,
		DriverRecognition,
	}
}

// ParseDriver accepts the stored identifier form ("manager_relationship").
func ParseDriver(s string) (Driver, error) {
	d := Driver(s)
	for _, known := range Drivers() {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown driver %q", s)
}

// Display returns the human-readable driver name used in plan descriptions.
func (d Driver) Display() string {
	switch d {
	case DriverCompensation:
		return "Compensation"
	case DriverManagerRelationship:
		return "Manager Relationship"
	case DriverWorkload:
		return "Workload"
	case DriverCareerGrowth:
		return "Career Growth"
	case DriverWorkLifeBalance:
		return "Work-Life Balance"
	case DriverRecognition:
		return "Recognition"
	}
	return string(d)
}
