package detector

// NoFacesMessage is returned when the locator finds nothing.
const NoFacesMessage = "No faces detected - nice try hiding!"

var cheatingMessages = [...]string{
	"Caught you cheating! Nice try though 😏",
	"Your deepfake skills need work! 🕵️",
	"Manipulation detected - better luck next time!",
	"AI: 1, Cheater: 0 🤖",
	"Your fake is no match for our detection!",
}

var cleanMessages = [...]string{
	"Looks real to me... for now 🤔",
	"You passed this time, but we're watching!",
	"Clean image detected - or are you just that good?",
	"No cheating detected... yet 👀",
	"Impressive! Either real or very well done.",
}

// Message picks the verdict message for an attempt. The choice depends only
// on the verdict and the attempt number.
func Message(cheating bool, attempt int64) string {
	pool := cleanMessages[:]
	if cheating {
		pool = cheatingMessages[:]
	}
	idx := attempt % int64(len(pool))
	if idx < 0 {
		idx += int64(len(pool))
	}
	return pool[idx]
}
