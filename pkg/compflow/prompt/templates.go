package prompt

const defaultSystem = `You convert captured web UI into idiomatic ${framework} components written in ${language}.
Reply with a single code block and nothing else.`

const genericTemplate = `Convert the following markup and styles into a ${framework} component.

Language: ${language}
Styling: ${styling}
Frameworks seen on the page: ${frameworks}
Libraries seen on the page: ${libraries}

Markup:
${markup}

Styles:
${styles}`

var defaultTemplates = map[string]string{
	"react": `Convert the following markup and styles into a React function component.

Language: ${language}
Styling: ${styling}
Use hooks only where state is needed. Keep class names stable unless the styling approach requires otherwise.
Frameworks seen on the page: ${frameworks}
Libraries seen on the page: ${libraries}

Markup:
${markup}

Styles:
${styles}`,

	"vue": `Convert the following markup and styles into a Vue 3 single-file component using <script setup>.

Language: ${language}
Styling: ${styling} (scoped)
Frameworks seen on the page: ${frameworks}
Libraries seen on the page: ${libraries}

Markup:
${markup}

Styles:
${styles}`,

	"svelte": `Convert the following markup and styles into a Svelte component.

Language: ${language}
Styling: ${styling}
Frameworks seen on the page: ${frameworks}
Libraries seen on the page: ${libraries}

Markup:
${markup}

Styles:
${styles}`,

	"html": `Rewrite the following markup and styles as clean, standalone HTML with a <style> block.

Styling: ${styling}

Markup:
${markup}

Styles:
${styles}`,
}
