package gate

import "time"

const dateLayout = "2006-01-02"

// DailyCounter tracks bot-vs-bot games started since the local calendar day
// began. The count lazily resets the first time a new date is observed.
// Callers serialize access; the counter itself holds no lock.
type DailyCounter struct {
	now   func() time.Time
	day   string
	count int
}

func NewDailyCounter(now func() time.Time) *DailyCounter {
	if now == nil {
		now = time.Now
	}
	return &DailyCounter{now: now, day: now().Format(dateLayout)}
}

func (d *DailyCounter) rollover() {
	today := d.now().Format(dateLayout)
	if today != d.day {
		d.day = today
		d.count = 0
	}
}

func (d *DailyCounter) Count() int {
	d.rollover()
	return d.count
}

func (d *DailyCounter) Increment() {
	d.rollover()
	d.count++
}

// Seed sets today's count from persisted history at startup.
func (d *DailyCounter) Seed(count int) {
	d.rollover()
	if count < 0 {
		count = 0
	}
	d.count = count
}
