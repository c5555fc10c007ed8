package provider

import (
	"fmt"
	"strings"
)

// CompositePrompt is the instruction sent alongside the reference image
// (first) and the product image (second).
func CompositePrompt(title, price, oldPrice string) string {
	var b strings.Builder

	b.WriteString("You are a professional product photographer and graphic designer.\n")
	b.WriteString("The first image is a STYLE REFERENCE. The second image is the PRODUCT.\n")
	b.WriteString("Create a new promotional product photo that features the product from the second image, ")
	b.WriteString("rendered in the composition, lighting, color palette, background and typography style of the first image.\n")
	b.WriteString("Keep the product itself faithful: do not change its shape, color, logo or proportions.\n")
	b.WriteString("Do not copy any product, people or text from the reference image.\n\n")

	b.WriteString("Add the following text to the image, styled like the reference:\n")
	fmt.Fprintf(&b, "- Product title: %q\n", strings.TrimSpace(title))
	fmt.Fprintf(&b, "- Price: %q\n", strings.TrimSpace(price))
	if old := strings.TrimSpace(oldPrice); old != "" {
		fmt.Fprintf(&b, "- Old price: %q, shown struck through next to the price to indicate a discount\n", old)
	}
	b.WriteString("\nReturn only the final image.")

	return b.String()
}

// RefinePrompt wraps a user instruction for an edit of the image sent first.
func RefinePrompt(instruction string, withAuxiliary bool) string {
	var b strings.Builder

	b.WriteString("Edit the first image according to the instruction below. ")
	b.WriteString("Keep everything that the instruction does not mention unchanged, including the product, layout and text.\n")
	if withAuxiliary {
		b.WriteString("A second image is attached; use it as the visual element the instruction refers to.\n")
	}
	fmt.Fprintf(&b, "\nInstruction: %s\n", strings.TrimSpace(instruction))
	b.WriteString("\nReturn only the edited image.")

	return b.String()
}
