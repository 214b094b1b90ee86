package verse

// SampleVersions are the translations bundled for development setups.
var SampleVersions = []VersionEntry{
	{Code: "NIV", Name: "New International Version"},
	{Code: "AMPC", Name: "Amplified Bible, Classic Edition"},
}

// SampleVerses is a tiny starter corpus. It seeds dev databases and the
// in-memory store so the server answers something useful before a full
// corpus import.
var SampleVerses = []SeedEntry{
	{
		Book: "James", Chapter: 1, Verse: 2, Version: "AMPC",
		Text: "Consider it wholly joyful, my brethren, whenever you are enveloped in or encounter trials of any sort or fall into various temptations.",
	},
	{
		Book: "Romans", Chapter: 8, Verse: 28, Version: "NIV",
		Text: "And we know that in all things God works for the good of those who love him, who have been called according to his purpose.",
	},
	{
		Book: "John", Chapter: 3, Verse: 16, Version: "NIV",
		Text: "For God so loved the world that he gave his one and only Son, that whoever believes in him shall not perish but have eternal life.",
	},
	{
		Book: "Philippians", Chapter: 4, Verse: 13, Version: "NIV",
		Text: "I can do all this through him who gives me strength.",
	},
	{
		Book: "Psalms", Chapter: 23, Verse: 1, Version: "NIV",
		Text: "The Lord is my shepherd, I lack nothing.",
	},
}
