package logx

func ExampleLogger() {
	interview := NewLogger("interview")
	interview.Info("Starting session %s", "demo")
	interview.Debug("Loaded %d answers", 3)

	builder := interview.WithComponent("builder")
	builder.Warn("Section %q came back empty", "Budget")
}
